package app

import (
	"context"
	"strings"

	"contentflow/internal/rbac"
	"contentflow/internal/store"
)

// PrincipalID builds the principal identifier for a user, qualified by
// domain when one is given.
func PrincipalID(username, domain string) string {
	username = strings.TrimSpace(username)
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return username
	}
	return username + "@" + domain
}

// NodeRef addresses a single node either by name within a site's document
// library or by full repository path.
type NodeRef struct {
	Site string
	Name string
	Path string
}

func (r NodeRef) validate() error {
	hasName := strings.TrimSpace(r.Name) != ""
	hasPath := strings.TrimSpace(r.Path) != ""
	switch {
	case hasName && hasPath:
		return invalidArgument("node must be addressed by name or by path, not both")
	case hasPath:
		return nil
	case hasName:
		if strings.TrimSpace(r.Site) == "" {
			return invalidArgument("site is required to address a node by name")
		}
		return nil
	default:
		return invalidArgument("node name or path is required")
	}
}

// ResolvePrincipal looks up the user behind username and domain.
func (s *Service) ResolvePrincipal(ctx context.Context, ac AuthContext, username, domain string) (store.User, error) {
	if err := ac.Validate(); err != nil {
		return store.User{}, err
	}
	principal := PrincipalID(username, domain)
	if principal == "" {
		return store.User{}, invalidArgument("username is required")
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return store.User{}, err
	}
	return s.dir.GetUser(ctx, principal)
}

// ResolveNode returns the node ref points at.
func (s *Service) ResolveNode(ctx context.Context, ac AuthContext, ref NodeRef) (store.Node, error) {
	if err := ac.Validate(); err != nil {
		return store.Node{}, err
	}
	if err := ref.validate(); err != nil {
		return store.Node{}, err
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return store.Node{}, err
	}
	return s.resolveNode(ctx, ref)
}

func (s *Service) resolveNode(ctx context.Context, ref NodeRef) (store.Node, error) {
	if strings.TrimSpace(ref.Path) != "" {
		return s.dir.GetNodeByPath(ctx, ref.Path)
	}
	nodes, err := s.resolve(ctx, ref.Site, []string{ref.Name}, ByName)
	if err != nil {
		return store.Node{}, err
	}
	return nodes[0], nil
}

// authorize checks the principal's site role for action. Nodes outside any
// site carry no role requirements.
func (s *Service) authorize(ctx context.Context, principal string, node store.Node, action rbac.Action) error {
	if node.SiteID == "" {
		return nil
	}
	role, err := s.dir.SiteRole(ctx, node.SiteID, principal)
	if err != nil {
		return err
	}
	if !rbac.Can(rbac.Normalize(role), action) {
		return remoteFailure(DetailForbidden, principal+" may not "+string(action)+" content in site "+node.SiteID, nil)
	}
	return nil
}
