package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredential = errors.New("credential does not match")

// HashCredential hashes a password for storage in the user directory.
func HashCredential(credential string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

func CheckCredential(hash, credential string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrBadCredential
	}
	if err != nil {
		return fmt.Errorf("check credential: %w", err)
	}
	return nil
}
