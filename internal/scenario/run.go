package scenario

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"contentflow/internal/app"
	"contentflow/internal/auth"
	"contentflow/internal/store"

	"go.uber.org/zap"
)

// Seeder provisions the directory records a scenario needs.
type Seeder interface {
	CreateUser(context.Context, store.User) error
	CreateSite(context.Context, store.Site) error
	SetSiteRole(context.Context, string, string, string) error
	CreateGroup(context.Context, store.Group) error
	CreateNode(context.Context, store.Node) (store.Node, error)
}

// Runner executes scenario steps.
type Runner interface {
	AddTags(context.Context, app.AuthContext, app.NodeRef, []string) (bool, error)
	RemoveTag(context.Context, app.AuthContext, app.NodeRef, string) error
	Tags(context.Context, app.AuthContext, app.NodeRef) ([]string, error)
	AddComments(context.Context, app.AuthContext, app.NodeRef, []string) ([]store.Comment, error)
	RemoveComment(context.Context, app.AuthContext, app.NodeRef, string) error
	Comments(context.Context, app.AuthContext, app.NodeRef) ([]store.Comment, error)
	Like(context.Context, app.AuthContext, app.NodeRef) error
	Unlike(context.Context, app.AuthContext, app.NodeRef) error
	CountLikes(context.Context, app.AuthContext, app.NodeRef) (int, error)
	SetFavorite(context.Context, app.AuthContext, app.NodeRef) error
	RemoveFavorite(context.Context, app.AuthContext, app.NodeRef) error
	IsFavorite(context.Context, app.AuthContext, app.NodeRef) (bool, error)
	StartWorkflow(context.Context, app.AuthContext, app.WorkflowRequest) (store.WorkItem, error)
}

// Seed creates the scenario's users, sites, groups and nodes. Nodes that
// already exist are left alone so a scenario can be seeded twice.
func Seed(ctx context.Context, seeder Seeder, sc Scenario) error {
	for _, u := range sc.Users {
		hash, err := auth.HashCredential(u.Password)
		if err != nil {
			return err
		}
		if err := seeder.CreateUser(ctx, store.User{
			ID:           u.ID(),
			DisplayName:  u.DisplayName,
			Email:        u.Email,
			PasswordHash: hash,
		}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID(), err)
		}
	}
	for _, site := range sc.Sites {
		if err := seeder.CreateSite(ctx, store.Site{ID: site.ID, Title: site.Title, Visibility: site.Visibility}); err != nil {
			return fmt.Errorf("seed site %s: %w", site.ID, err)
		}
		for member, role := range site.Members {
			if err := seeder.SetSiteRole(ctx, site.ID, member, role); err != nil {
				return fmt.Errorf("seed site %s member %s: %w", site.ID, member, err)
			}
		}
	}
	for _, group := range sc.Groups {
		if err := seeder.CreateGroup(ctx, store.Group{Name: group.Name, DisplayName: group.DisplayName, Members: group.Members}); err != nil {
			return fmt.Errorf("seed group %s: %w", group.Name, err)
		}
	}
	for _, node := range sc.Nodes {
		_, err := seeder.CreateNode(ctx, store.Node{SiteID: node.Site, Name: node.Name, Path: node.Path, Kind: node.Kind})
		if errors.Is(err, store.ErrRejected) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed node %s%s: %w", node.Name, node.Path, err)
		}
	}
	return nil
}

type StepResult struct {
	Name     string
	Action   string
	Err      error
	Failures []string
}

type Report struct {
	Scenario string
	Steps    []StepResult
}

func (r Report) Failed() bool {
	for _, step := range r.Steps {
		if len(step.Failures) > 0 {
			return true
		}
	}
	return false
}

// Run executes every step in order and records the expectations that did
// not hold. A failing step does not stop the run.
func Run(ctx context.Context, runner Runner, sc Scenario, logger *zap.Logger) Report {
	report := Report{Scenario: sc.Name}
	for i, step := range sc.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step %d", i+1)
		}
		password, _ := sc.password(step.As)
		ac := app.AuthContext{Principal: step.As, Credential: password}

		result := StepResult{Name: name, Action: step.Action}
		out, err := execute(ctx, runner, ac, step)
		result.Err = err
		result.Failures = verify(ctx, runner, ac, step, out, err)
		report.Steps = append(report.Steps, result)

		fields := []zap.Field{zap.String("step", name), zap.String("action", step.Action), zap.String("as", step.As)}
		if err != nil {
			fields = append(fields, zap.String("error_code", app.Classify(err)), zap.Error(err))
		}
		if len(result.Failures) > 0 {
			logger.Warn("step failed", append(fields, zap.Strings("failures", result.Failures))...)
		} else {
			logger.Info("step passed", fields...)
		}
	}
	return report
}

type outcome struct {
	accepted *bool
	workItem *store.WorkItem
}

func execute(ctx context.Context, runner Runner, ac app.AuthContext, step Step) (outcome, error) {
	ref := step.Node.Ref()
	var out outcome
	switch step.Action {
	case ActionTag:
		ok, err := runner.AddTags(ctx, ac, ref, step.Values)
		out.accepted = &ok
		return out, err
	case ActionUntag:
		for _, tag := range step.Values {
			if err := runner.RemoveTag(ctx, ac, ref, tag); err != nil {
				return out, err
			}
		}
		return out, nil
	case ActionComment:
		_, err := runner.AddComments(ctx, ac, ref, step.Values)
		return out, err
	case ActionUncomment:
		for _, text := range step.Values {
			if err := runner.RemoveComment(ctx, ac, ref, text); err != nil {
				return out, err
			}
		}
		return out, nil
	case ActionLike:
		return out, runner.Like(ctx, ac, ref)
	case ActionUnlike:
		return out, runner.Unlike(ctx, ac, ref)
	case ActionFavorite:
		return out, runner.SetFavorite(ctx, ac, ref)
	case ActionUnfavorite:
		return out, runner.RemoveFavorite(ctx, ac, ref)
	case ActionWorkflow:
		req, err := step.Workflow.request()
		if err != nil {
			return out, err
		}
		item, err := runner.StartWorkflow(ctx, ac, req)
		if err == nil {
			out.workItem = &item
		}
		return out, err
	case ActionCheck:
		return out, nil
	default:
		return out, fmt.Errorf("unknown action %q", step.Action)
	}
}

func verify(ctx context.Context, runner Runner, ac app.AuthContext, step Step, out outcome, stepErr error) []string {
	var failures []string
	expect := step.Expect
	ref := step.Node.Ref()

	if got := app.Classify(stepErr); got != expect.Error {
		failures = append(failures, fmt.Sprintf("error: want %q, got %q (%v)", expect.Error, got, stepErr))
	}
	if expect.Accepted != nil && (out.accepted == nil || *out.accepted != *expect.Accepted) {
		failures = append(failures, fmt.Sprintf("accepted: want %v", *expect.Accepted))
	}
	if expect.Tags != nil {
		tags, err := runner.Tags(ctx, ac, ref)
		if err != nil {
			failures = append(failures, fmt.Sprintf("tags: %v", err))
		} else if !sameStrings(expect.Tags, tags) {
			failures = append(failures, fmt.Sprintf("tags: want %v, got %v", expect.Tags, tags))
		}
	}
	if expect.Comments != nil {
		comments, err := runner.Comments(ctx, ac, ref)
		if err != nil {
			failures = append(failures, fmt.Sprintf("comments: %v", err))
		} else {
			texts := make([]string, 0, len(comments))
			for _, c := range comments {
				texts = append(texts, c.Text)
			}
			if !sameStrings(expect.Comments, texts) {
				failures = append(failures, fmt.Sprintf("comments: want %v, got %v", expect.Comments, texts))
			}
		}
	}
	if expect.Likes != nil {
		count, err := runner.CountLikes(ctx, ac, ref)
		if err != nil {
			failures = append(failures, fmt.Sprintf("likes: %v", err))
		} else if count != *expect.Likes {
			failures = append(failures, fmt.Sprintf("likes: want %d, got %d", *expect.Likes, count))
		}
	}
	if expect.Favorite != nil {
		favorite, err := runner.IsFavorite(ctx, ac, ref)
		if err != nil {
			failures = append(failures, fmt.Sprintf("favorite: %v", err))
		} else if favorite != *expect.Favorite {
			failures = append(failures, fmt.Sprintf("favorite: want %v, got %v", *expect.Favorite, favorite))
		}
	}
	if expect.Status != "" || expect.CompletedSlots != nil {
		if out.workItem == nil {
			failures = append(failures, "work item: none was created")
			return failures
		}
		if expect.Status != "" && out.workItem.Status != expect.Status {
			failures = append(failures, fmt.Sprintf("status: want %s, got %s", expect.Status, out.workItem.Status))
		}
		if expect.CompletedSlots != nil && out.workItem.CompletedSlots() != *expect.CompletedSlots {
			failures = append(failures, fmt.Sprintf("completed slots: want %d, got %d", *expect.CompletedSlots, out.workItem.CompletedSlots()))
		}
	}
	return failures
}

func sameStrings(want, got []string) bool {
	if len(want) == 0 && len(got) == 0 {
		return true
	}
	return reflect.DeepEqual(want, got)
}
