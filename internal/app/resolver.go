package app

import (
	"context"
	"strings"

	"contentflow/internal/store"
)

type AddressingMode int

const (
	ByName AddressingMode = iota + 1
	ByPath
)

// ContentRefs names the content of a work item. Names are resolved in the
// site's document library; Paths are full repository paths. Exactly one of
// the two is set.
type ContentRefs struct {
	Site  string
	Names []string
	Paths []string
}

func (c ContentRefs) mode() (AddressingMode, []string, error) {
	switch {
	case len(c.Names) > 0 && len(c.Paths) > 0:
		return 0, nil, invalidArgument("content must be addressed by name or by path, not both")
	case len(c.Names) > 0:
		if strings.TrimSpace(c.Site) == "" {
			return 0, nil, invalidArgument("site is required to address content by name")
		}
		return ByName, c.Names, nil
	case len(c.Paths) > 0:
		return ByPath, c.Paths, nil
	default:
		return 0, nil, invalidArgument("at least one content reference is required")
	}
}

// ResolveContent resolves identifiers to nodes in input order. Any
// unresolved identifier fails the whole call.
func (s *Service) ResolveContent(ctx context.Context, ac AuthContext, site string, identifiers []string, mode AddressingMode) ([]store.Node, error) {
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	if err := validateIdentifiers(site, identifiers, mode); err != nil {
		return nil, err
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return nil, err
	}
	return s.resolve(ctx, site, identifiers, mode)
}

func validateIdentifiers(site string, identifiers []string, mode AddressingMode) error {
	if mode != ByName && mode != ByPath {
		return invalidArgument("unknown addressing mode %d", mode)
	}
	if len(identifiers) == 0 {
		return invalidArgument("at least one identifier is required")
	}
	for i, id := range identifiers {
		if strings.TrimSpace(id) == "" {
			return invalidArgument("identifier %d is blank", i)
		}
	}
	if mode == ByName && strings.TrimSpace(site) == "" {
		return invalidArgument("site is required to resolve content by name")
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, site string, identifiers []string, mode AddressingMode) ([]store.Node, error) {
	if err := validateIdentifiers(site, identifiers, mode); err != nil {
		return nil, err
	}

	base := ""
	if mode == ByName {
		if _, err := s.dir.GetSite(ctx, site); err != nil {
			return nil, err
		}
		base = store.SitePath(site) + "/"
	}

	nodes := make([]store.Node, 0, len(identifiers))
	for _, id := range identifiers {
		node, err := s.dir.GetNodeByPath(ctx, base+id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
