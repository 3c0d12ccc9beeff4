package app

import (
	"context"
	"strings"

	"contentflow/internal/rbac"
	"contentflow/internal/search"
	"contentflow/internal/store"
	"contentflow/internal/util"

	"go.uber.org/zap"
)

const disallowedTagSymbols = "!@#$%^&*()_+<>?:{}[]"

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func tagAllowed(tag string) bool {
	return !strings.ContainsAny(tag, disallowedTagSymbols)
}

// annotationTarget validates the call, authenticates the caller and
// resolves the node. A non-empty action is checked against the caller's
// site role.
func (s *Service) annotationTarget(ctx context.Context, ac AuthContext, ref NodeRef, action rbac.Action) (store.Node, error) {
	if err := ac.Validate(); err != nil {
		return store.Node{}, err
	}
	if err := ref.validate(); err != nil {
		return store.Node{}, err
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return store.Node{}, err
	}
	node, err := s.resolveNode(ctx, ref)
	if err != nil {
		return store.Node{}, err
	}
	if action != "" {
		if err := s.authorize(ctx, ac.Principal, node, action); err != nil {
			return store.Node{}, err
		}
	}
	return node, nil
}

// AddTag attaches tag to the node. A tag containing a disallowed symbol is
// refused with false and leaves the node untouched.
func (s *Service) AddTag(ctx context.Context, ac AuthContext, ref NodeRef, tag string) (bool, error) {
	return s.AddTags(ctx, ac, ref, []string{tag})
}

// AddTags attaches tags in order. If any tag is refused none are applied.
func (s *Service) AddTags(ctx context.Context, ac AuthContext, ref NodeRef, tags []string) (bool, error) {
	if len(tags) == 0 {
		return false, invalidArgument("at least one tag is required")
	}
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		n := normalizeTag(tag)
		if n == "" {
			return false, invalidArgument("tag is required")
		}
		normalized = append(normalized, n)
	}

	node, err := s.annotationTarget(ctx, ac, ref, rbac.ActionAnnotate)
	if err != nil {
		return false, err
	}
	for _, tag := range normalized {
		if !tagAllowed(tag) {
			s.log.Debug("tag refused", zap.String("node", node.ID), zap.String("tag", tag))
			return false, nil
		}
	}

	if _, err := s.social.AttachTags(ctx, node.ID, normalized); err != nil {
		return false, err
	}
	s.reindex(ctx, node)
	return true, nil
}

func (s *Service) RemoveTag(ctx context.Context, ac AuthContext, ref NodeRef, tag string) error {
	tag = normalizeTag(tag)
	if tag == "" {
		return invalidArgument("tag is required")
	}
	node, err := s.annotationTarget(ctx, ac, ref, rbac.ActionAnnotate)
	if err != nil {
		return err
	}
	if err := s.social.DetachTag(ctx, node.ID, tag); err != nil {
		return err
	}
	s.reindex(ctx, node)
	return nil
}

// Tags lists the node's tags in the order they were first added.
func (s *Service) Tags(ctx context.Context, ac AuthContext, ref NodeRef) ([]string, error) {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return nil, err
	}
	return s.social.ListTags(ctx, node.ID)
}

func (s *Service) AddComment(ctx context.Context, ac AuthContext, ref NodeRef, text string) (store.Comment, error) {
	comments, err := s.AddComments(ctx, ac, ref, []string{text})
	if err != nil {
		return store.Comment{}, err
	}
	return comments[0], nil
}

// AddComments adds comments in order; the last one becomes the newest.
// Every text is checked before anything is written.
func (s *Service) AddComments(ctx context.Context, ac AuthContext, ref NodeRef, texts []string) ([]store.Comment, error) {
	if len(texts) == 0 {
		return nil, invalidArgument("at least one comment is required")
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, invalidArgument("comment text is required")
		}
	}

	node, err := s.annotationTarget(ctx, ac, ref, rbac.ActionAnnotate)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	comments := make([]store.Comment, 0, len(texts))
	for _, text := range texts {
		comments = append(comments, store.Comment{
			ID:        util.NewID("cmt"),
			NodeID:    node.ID,
			Author:    ac.Principal,
			Text:      text,
			CreatedAt: now,
		})
	}
	if err := s.social.AttachComments(ctx, node.ID, comments); err != nil {
		return nil, err
	}
	s.reindex(ctx, node)
	return comments, nil
}

// Comments lists the node's comments newest first.
func (s *Service) Comments(ctx context.Context, ac AuthContext, ref NodeRef) ([]store.Comment, error) {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return nil, err
	}
	return s.social.ListComments(ctx, node.ID)
}

// RemoveComment removes the newest comment whose text matches.
func (s *Service) RemoveComment(ctx context.Context, ac AuthContext, ref NodeRef, text string) error {
	if strings.TrimSpace(text) == "" {
		return invalidArgument("comment text is required")
	}
	node, err := s.annotationTarget(ctx, ac, ref, rbac.ActionAnnotate)
	if err != nil {
		return err
	}
	if _, err := s.social.DetachComment(ctx, node.ID, text); err != nil {
		return err
	}
	s.reindex(ctx, node)
	return nil
}

func (s *Service) Like(ctx context.Context, ac AuthContext, ref NodeRef) error {
	node, err := s.annotationTarget(ctx, ac, ref, rbac.ActionAnnotate)
	if err != nil {
		return err
	}
	if err := s.social.AddLike(ctx, node.ID, ac.Principal); err != nil {
		return err
	}
	s.reindex(ctx, node)
	return nil
}

// Unlike removes the caller's like. Removing an absent like succeeds.
func (s *Service) Unlike(ctx context.Context, ac AuthContext, ref NodeRef) error {
	node, err := s.annotationTarget(ctx, ac, ref, rbac.ActionAnnotate)
	if err != nil {
		return err
	}
	if err := s.social.RemoveLike(ctx, node.ID, ac.Principal); err != nil {
		return err
	}
	s.reindex(ctx, node)
	return nil
}

func (s *Service) IsLiked(ctx context.Context, ac AuthContext, ref NodeRef) (bool, error) {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return false, err
	}
	return s.social.HasLike(ctx, node.ID, ac.Principal)
}

func (s *Service) CountLikes(ctx context.Context, ac AuthContext, ref NodeRef) (int, error) {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return 0, err
	}
	return s.social.CountLikes(ctx, node.ID)
}

func (s *Service) SetFavorite(ctx context.Context, ac AuthContext, ref NodeRef) error {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return err
	}
	return s.social.AddFavorite(ctx, ac.Principal, node.ID)
}

func (s *Service) RemoveFavorite(ctx context.Context, ac AuthContext, ref NodeRef) error {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return err
	}
	return s.social.RemoveFavorite(ctx, ac.Principal, node.ID)
}

func (s *Service) IsFavorite(ctx context.Context, ac AuthContext, ref NodeRef) (bool, error) {
	node, err := s.annotationTarget(ctx, ac, ref, "")
	if err != nil {
		return false, err
	}
	return s.social.IsFavorite(ctx, ac.Principal, node.ID)
}

// Favorites lists the caller's favorite node IDs.
func (s *Service) Favorites(ctx context.Context, ac AuthContext) ([]string, error) {
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return nil, err
	}
	return s.social.ListFavorites(ctx, ac.Principal)
}

// reindex pushes the node and its current annotations to the search index.
// Failures are logged and otherwise ignored.
func (s *Service) reindex(ctx context.Context, node store.Node) {
	if s.search == nil {
		return
	}
	rec, err := s.annotatedRecord(ctx, search.NodeRecord{
		ID:     node.ID,
		SiteID: node.SiteID,
		Name:   node.Name,
		Path:   node.Path,
		Kind:   node.Kind,
	})
	if err != nil {
		s.log.Warn("reindex", zap.String("node", node.ID), zap.Error(err))
		return
	}
	s.search.IndexNode(rec)
}

// Reindex rebuilds the search index from the directory, attaching each
// node's tags, comments and like count. It returns the number of records
// sent.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.search == nil {
		return 0, nil
	}
	records, err := s.search.LoadNodes(ctx)
	if err != nil {
		return 0, err
	}
	for i := range records {
		records[i], err = s.annotatedRecord(ctx, records[i])
		if err != nil {
			return 0, err
		}
	}
	if err := s.search.IndexNodes(records); err != nil {
		return 0, err
	}
	s.log.Info("search index rebuilt", zap.Int("records", len(records)))
	return len(records), nil
}

func (s *Service) annotatedRecord(ctx context.Context, rec search.NodeRecord) (search.NodeRecord, error) {
	tags, err := s.social.ListTags(ctx, rec.ID)
	if err != nil {
		return rec, err
	}
	comments, err := s.social.ListComments(ctx, rec.ID)
	if err != nil {
		return rec, err
	}
	likes, err := s.social.CountLikes(ctx, rec.ID)
	if err != nil {
		return rec, err
	}
	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Text)
	}
	rec.Tags = tags
	rec.Comments = texts
	rec.Likes = likes
	return rec, nil
}
