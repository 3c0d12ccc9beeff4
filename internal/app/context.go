package app

import "strings"

// AuthContext carries the caller's principal and credential into every
// operation.
type AuthContext struct {
	Principal  string
	Credential string
}

func (a AuthContext) Validate() error {
	if strings.TrimSpace(a.Principal) == "" {
		return invalidArgument("principal is required")
	}
	if a.Credential == "" {
		return invalidArgument("credential is required")
	}
	return nil
}
