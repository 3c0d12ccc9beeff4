package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"contentflow/internal/auth"
	"contentflow/internal/config"
	"contentflow/internal/email"
	"contentflow/internal/search"
	"contentflow/internal/session"
	"contentflow/internal/social"
	"contentflow/internal/store"
	"contentflow/internal/util"

	"go.uber.org/zap"
)

type directory interface {
	GetUser(context.Context, string) (store.User, error)
	GetSite(context.Context, string) (store.Site, error)
	SiteRole(context.Context, string, string) (string, error)
	GetGroup(context.Context, string) (store.Group, error)
	GetNodeByPath(context.Context, string) (store.Node, error)
	CreateWorkItem(context.Context, store.WorkItem) (store.WorkItem, error)
	CompleteWorkItemStep(context.Context, string, string, string) (store.WorkItem, error)
	GetWorkItem(context.Context, string) (store.WorkItem, error)
	Ping(ctx context.Context) error
}

type annotationStore interface {
	AttachTags(context.Context, string, []string) ([]string, error)
	DetachTag(context.Context, string, string) error
	ListTags(context.Context, string) ([]string, error)
	AttachComments(context.Context, string, []store.Comment) error
	ListComments(context.Context, string) ([]store.Comment, error)
	DetachComment(context.Context, string, string) (store.Comment, error)
	AddLike(context.Context, string, string) error
	RemoveLike(context.Context, string, string) error
	HasLike(context.Context, string, string) (bool, error)
	CountLikes(context.Context, string) (int, error)
	AddFavorite(context.Context, string, string) error
	RemoveFavorite(context.Context, string, string) error
	IsFavorite(context.Context, string, string) (bool, error)
	ListFavorites(context.Context, string) ([]string, error)
	Ping(ctx context.Context) error
}

type ticketStore interface {
	SaveTicket(context.Context, string, string, string, time.Time) error
	LookupTicket(context.Context, string) (session.TicketData, error)
	RevokeTicket(context.Context, string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexNode(search.NodeRecord)
	LoadNodes(context.Context) ([]search.NodeRecord, error)
	IndexNodes([]search.NodeRecord) error
}

type notifier interface {
	IsConfigured() bool
	NotifyWorkItem([]string, email.WorkItemData) error
}

type Service struct {
	cfg     config.Config
	dir     directory
	social  annotationStore
	tickets ticketStore
	search  searchIndex
	mailer  notifier
	log     *zap.Logger
	now     func() time.Time
}

// New wires the service. searchService and mailer may be nil.
func New(
	cfg config.Config,
	dir *store.PostgresStore,
	annotations *social.RedisStore,
	tickets *session.RedisStore,
	searchService *search.Service,
	mailer *email.Service,
	logger *zap.Logger,
) *Service {
	s := &Service{
		cfg:     cfg,
		dir:     dir,
		social:  annotations,
		tickets: tickets,
		log:     logger.Named("app"),
		now:     time.Now,
	}
	if searchService != nil {
		s.search = searchService
	}
	if mailer != nil {
		s.mailer = mailer
	}
	return s
}

// authenticate checks the credential pair against the directory. A valid
// cached ticket skips the password check.
func (s *Service) authenticate(ctx context.Context, ac AuthContext) error {
	secret := []byte(s.cfg.TicketSecret)
	key := auth.CredentialKey(ac.Principal, ac.Credential)

	cached, err := s.tickets.LookupTicket(ctx, key)
	switch {
	case err == nil:
		claims, parseErr := auth.ParseTicket(secret, cached.Ticket)
		if parseErr == nil && claims.Sub == ac.Principal {
			return nil
		}
		// stale or foreign ticket
		if err := s.tickets.RevokeTicket(ctx, key); err != nil {
			return err
		}
	case !errors.Is(err, session.ErrTicketNotFound):
		return err
	}

	user, err := s.dir.GetUser(ctx, ac.Principal)
	if errors.Is(err, store.ErrNotFound) {
		return remoteFailure(DetailUnauthorized, "authentication failed for "+ac.Principal, nil)
	}
	if err != nil {
		return err
	}
	if err := auth.CheckCredential(user.PasswordHash, ac.Credential); err != nil {
		if errors.Is(err, auth.ErrBadCredential) {
			return remoteFailure(DetailUnauthorized, "authentication failed for "+ac.Principal, nil)
		}
		return err
	}

	ttl := s.cfg.TicketTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := s.now().Add(ttl)
	ticket, err := auth.IssueTicket(secret, auth.Claims{
		Sub: user.ID,
		JTI: util.NewID("tkt"),
		Exp: expiresAt.Unix(),
	})
	if err != nil {
		return err
	}
	return s.tickets.SaveTicket(ctx, key, user.ID, ticket, expiresAt)
}

// SearchContent finds nodes by name, path, tag or comment text.
func (s *Service) SearchContent(ctx context.Context, ac AuthContext, site, query string) (search.Response, error) {
	if err := ac.Validate(); err != nil {
		return search.Response{}, err
	}
	if strings.TrimSpace(query) == "" {
		return search.Response{}, invalidArgument("search query is required")
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(ctx, search.Query{Text: query, FilterSiteID: site}), nil
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.dir.Ping(ctx); err != nil {
		return err
	}
	return s.social.Ping(ctx)
}
