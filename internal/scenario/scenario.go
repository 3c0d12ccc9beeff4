// Package scenario loads YAML provisioning scenarios: the users, sites,
// groups and content to seed, then the annotation and workflow steps to run
// against them with their expected outcomes.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"contentflow/internal/app"
	"contentflow/internal/store"

	"gopkg.in/yaml.v3"
)

type Scenario struct {
	Name   string  `yaml:"name"`
	Users  []User  `yaml:"users"`
	Sites  []Site  `yaml:"sites"`
	Groups []Group `yaml:"groups"`
	Nodes  []Node  `yaml:"nodes"`
	Steps  []Step  `yaml:"steps"`
}

type User struct {
	Username    string `yaml:"username"`
	Domain      string `yaml:"domain"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"displayName"`
	Email       string `yaml:"email"`
}

// ID is the principal the user signs in as.
func (u User) ID() string {
	return app.PrincipalID(u.Username, u.Domain)
}

type Site struct {
	ID         string            `yaml:"id"`
	Title      string            `yaml:"title"`
	Visibility string            `yaml:"visibility"`
	Members    map[string]string `yaml:"members"`
}

type Group struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"displayName"`
	Members     []string `yaml:"members"`
}

// Node is a document or folder to create, by name in a site or by path.
type Node struct {
	Site string `yaml:"site"`
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	Kind string `yaml:"kind"`
}

func (n Node) Ref() app.NodeRef {
	return app.NodeRef{Site: n.Site, Name: n.Name, Path: n.Path}
}

const (
	ActionTag        = "tag"
	ActionUntag      = "untag"
	ActionComment    = "comment"
	ActionUncomment  = "uncomment"
	ActionLike       = "like"
	ActionUnlike     = "unlike"
	ActionFavorite   = "favorite"
	ActionUnfavorite = "unfavorite"
	ActionWorkflow   = "workflow"
	ActionCheck      = "check"
)

var knownActions = map[string]struct{}{
	ActionTag: {}, ActionUntag: {}, ActionComment: {}, ActionUncomment: {},
	ActionLike: {}, ActionUnlike: {}, ActionFavorite: {}, ActionUnfavorite: {},
	ActionWorkflow: {}, ActionCheck: {},
}

type Step struct {
	Name     string    `yaml:"name"`
	As       string    `yaml:"as"`
	Action   string    `yaml:"action"`
	Node     Node      `yaml:"node"`
	Values   []string  `yaml:"values"`
	Workflow *Workflow `yaml:"workflow"`
	Expect   Expect    `yaml:"expect"`
}

type Workflow struct {
	Message      string   `yaml:"message"`
	Due          string   `yaml:"due"`
	Priority     string   `yaml:"priority"`
	Assignee     Assignee `yaml:"assignee"`
	Site         string   `yaml:"site"`
	Names        []string `yaml:"names"`
	Paths        []string `yaml:"paths"`
	AutoComplete bool     `yaml:"autoComplete"`
	Notify       bool     `yaml:"notify"`
}

type Assignee struct {
	Type       string   `yaml:"type"`
	Principal  string   `yaml:"principal"`
	Principals []string `yaml:"principals"`
	Group      string   `yaml:"group"`
	Percent    int      `yaml:"percent"`
}

// Expect lists the checks to run after a step. Unset fields are skipped.
type Expect struct {
	Error          string   `yaml:"error"`
	Accepted       *bool    `yaml:"accepted"`
	Tags           []string `yaml:"tags"`
	Comments       []string `yaml:"comments"`
	Likes          *int     `yaml:"likes"`
	Favorite       *bool    `yaml:"favorite"`
	Status         string   `yaml:"status"`
	CompletedSlots *int     `yaml:"completedSlots"`
}

// Parse decodes and checks a scenario.
func Parse(data []byte) (Scenario, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Scenario{}, fmt.Errorf("scenario: payload is empty")
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("scenario: decode: %w", err)
	}
	if err := sc.check(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return sc, nil
}

func Load(path string) (Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	sc, err := Parse(content)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func (sc Scenario) password(principal string) (string, bool) {
	for _, u := range sc.Users {
		if u.ID() == principal {
			return u.Password, true
		}
	}
	return "", false
}

func (sc Scenario) check() error {
	for i, u := range sc.Users {
		if strings.TrimSpace(u.Username) == "" || u.Password == "" {
			return fmt.Errorf("user %d: username and password are required", i)
		}
	}
	for i, step := range sc.Steps {
		if _, ok := knownActions[step.Action]; !ok {
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if _, ok := sc.password(step.As); !ok {
			return fmt.Errorf("step %d: %q is not a scenario user", i, step.As)
		}
		if step.Action == ActionWorkflow {
			if step.Workflow == nil {
				return fmt.Errorf("step %d: workflow block is required", i)
			}
			if _, err := step.Workflow.request(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

func (w Workflow) request() (app.WorkflowRequest, error) {
	req := app.WorkflowRequest{
		Message:         w.Message,
		Content:         app.ContentRefs{Site: w.Site, Names: w.Names, Paths: w.Paths},
		AutoComplete:    w.AutoComplete,
		NotifyAssignees: w.Notify,
	}

	if w.Due != "" {
		due, err := time.Parse(time.RFC3339, w.Due)
		if err != nil {
			return app.WorkflowRequest{}, fmt.Errorf("due: %w", err)
		}
		req.DueAt = &due
	}

	switch strings.ToLower(w.Priority) {
	case "":
	case "high":
		req.Priority = store.PriorityHigh
	case "normal":
		req.Priority = store.PriorityNormal
	case "low":
		req.Priority = store.PriorityLow
	default:
		return app.WorkflowRequest{}, fmt.Errorf("unknown priority %q", w.Priority)
	}

	switch w.Assignee.Type {
	case "single":
		req.Assignee = app.SingleReviewer{Principal: w.Assignee.Principal}
	case "group":
		req.Assignee = app.GroupReview{Group: w.Assignee.Group, RequiredPercent: percentOrAll(w.Assignee.Percent)}
	case "multiple":
		req.Assignee = app.MultipleReviewers{Principals: w.Assignee.Principals, RequiredPercent: percentOrAll(w.Assignee.Percent)}
	case "pooled":
		req.Assignee = app.PooledReview{Group: w.Assignee.Group}
	default:
		return app.WorkflowRequest{}, fmt.Errorf("unknown assignee type %q", w.Assignee.Type)
	}
	return req, nil
}

func percentOrAll(percent int) int {
	if percent == 0 {
		return 100
	}
	return percent
}
