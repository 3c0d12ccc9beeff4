package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contentflow/internal/email"
	"contentflow/internal/rbac"
	"contentflow/internal/store"

	"go.uber.org/zap"
)

// AssigneeSpec selects who a work item is assigned to. It is implemented by
// SingleReviewer, GroupReview, MultipleReviewers and PooledReview.
type AssigneeSpec interface {
	kind() string
	validate() error
}

type SingleReviewer struct {
	Principal string
}

// GroupReview gives every member of Group a slot. The item is done once
// RequiredPercent of the slots are complete.
type GroupReview struct {
	Group           string
	RequiredPercent int
}

type MultipleReviewers struct {
	Principals      []string
	RequiredPercent int
}

// PooledReview offers one slot that any member of Group may claim.
type PooledReview struct {
	Group string
}

func (SingleReviewer) kind() string    { return store.KindSingleReview }
func (GroupReview) kind() string       { return store.KindGroupReview }
func (MultipleReviewers) kind() string { return store.KindMultipleReview }
func (PooledReview) kind() string      { return store.KindPooledReview }

func (a SingleReviewer) validate() error {
	if strings.TrimSpace(a.Principal) == "" {
		return invalidArgument("reviewer is required")
	}
	return nil
}

func (a GroupReview) validate() error {
	if strings.TrimSpace(a.Group) == "" {
		return invalidArgument("group name is required")
	}
	return validatePercent(a.RequiredPercent)
}

func (a MultipleReviewers) validate() error {
	if len(a.Principals) == 0 {
		return invalidArgument("at least one reviewer is required")
	}
	seen := make(map[string]struct{}, len(a.Principals))
	for _, p := range a.Principals {
		p = strings.TrimSpace(p)
		if p == "" {
			return invalidArgument("reviewer is required")
		}
		if _, ok := seen[p]; ok {
			return invalidArgument("reviewer %s is listed twice", p)
		}
		seen[p] = struct{}{}
	}
	return validatePercent(a.RequiredPercent)
}

func (a PooledReview) validate() error {
	if strings.TrimSpace(a.Group) == "" {
		return invalidArgument("group name is required")
	}
	return nil
}

func validatePercent(percent int) error {
	if percent < 0 || percent > 100 {
		return invalidArgument("required percent must be between 0 and 100, got %d", percent)
	}
	return nil
}

type WorkflowRequest struct {
	Message  string
	DueAt    *time.Time
	Priority store.Priority // zero means normal
	Assignee AssigneeSpec
	Content  ContentRefs
	// AutoComplete drives every slot of the new item to completion.
	AutoComplete    bool
	NotifyAssignees bool
}

func (r WorkflowRequest) validate() (AddressingMode, []string, error) {
	if r.Assignee == nil {
		return 0, nil, invalidArgument("assignee is required")
	}
	if err := r.Assignee.validate(); err != nil {
		return 0, nil, err
	}
	if r.Priority != 0 && (r.Priority < store.PriorityHigh || r.Priority > store.PriorityLow) {
		return 0, nil, invalidArgument("unknown priority %d", r.Priority)
	}
	return r.Content.mode()
}

// StartWorkflow creates a work item over the referenced content and assigns
// it according to req.Assignee. Nothing is created unless every group and
// node resolves. With AutoComplete set, a nil error also means every slot
// was completed.
func (s *Service) StartWorkflow(ctx context.Context, ac AuthContext, req WorkflowRequest) (store.WorkItem, error) {
	if err := ac.Validate(); err != nil {
		return store.WorkItem{}, err
	}
	mode, identifiers, err := req.validate()
	if err != nil {
		return store.WorkItem{}, err
	}
	if err := validateIdentifiers(req.Content.Site, identifiers, mode); err != nil {
		return store.WorkItem{}, err
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return store.WorkItem{}, err
	}

	item, err := s.assign(ctx, req.Assignee)
	if err != nil {
		return store.WorkItem{}, err
	}

	nodes, err := s.resolve(ctx, req.Content.Site, identifiers, mode)
	if err != nil {
		return store.WorkItem{}, err
	}
	for _, node := range nodes {
		if err := s.authorize(ctx, ac.Principal, node, rbac.ActionReview); err != nil {
			return store.WorkItem{}, err
		}
	}

	item.Message = req.Message
	item.DueAt = req.DueAt
	item.Priority = req.Priority
	if item.Priority == 0 {
		item.Priority = store.PriorityNormal
	}
	item.Initiator = ac.Principal
	item.Nodes = nodes

	created, err := s.dir.CreateWorkItem(ctx, item)
	if err != nil {
		return store.WorkItem{}, err
	}
	s.log.Info("work item created",
		zap.String("work_item", created.ID),
		zap.String("kind", created.Kind),
		zap.String("initiator", created.Initiator),
		zap.Int("nodes", len(created.Nodes)),
		zap.Int("slots", len(created.Slots)),
	)

	workItemID := created.ID
	for _, assignee := range completionPlan(req.AutoComplete, created) {
		created, err = s.dir.CompleteWorkItemStep(ctx, workItemID, assignee, ac.Principal)
		if err != nil {
			return store.WorkItem{}, fmt.Errorf("complete work item %s for %s: %w", workItemID, assignee, err)
		}
	}
	if req.AutoComplete {
		s.log.Info("work item auto-completed", zap.String("work_item", created.ID), zap.String("status", created.Status))
	}

	if req.NotifyAssignees {
		s.notifyAssignees(ctx, created)
	}
	return created, nil
}

// assign resolves the assignee topology into the kind, group and slots of
// a new work item.
func (s *Service) assign(ctx context.Context, spec AssigneeSpec) (store.WorkItem, error) {
	item := store.WorkItem{Kind: spec.kind(), RequiredPercent: 100}
	switch a := spec.(type) {
	case SingleReviewer:
		item.Slots = pendingSlots([]string{strings.TrimSpace(a.Principal)})
	case MultipleReviewers:
		item.RequiredPercent = a.RequiredPercent
		item.Slots = pendingSlots(a.Principals)
	case GroupReview:
		group, err := s.dir.GetGroup(ctx, a.Group)
		if err != nil {
			return store.WorkItem{}, err
		}
		if len(group.Members) == 0 {
			return store.WorkItem{}, remoteFailure("", "group "+a.Group+" has no members to review", nil)
		}
		item.Group = group.Name
		item.RequiredPercent = a.RequiredPercent
		item.Slots = pendingSlots(group.Members)
	case PooledReview:
		group, err := s.dir.GetGroup(ctx, a.Group)
		if err != nil {
			return store.WorkItem{}, err
		}
		item.Group = group.Name
		item.Slots = pendingSlots([]string{group.Name})
	default:
		return store.WorkItem{}, invalidArgument("unsupported assignee %T", spec)
	}
	return item, nil
}

func pendingSlots(assignees []string) []store.Slot {
	slots := make([]store.Slot, 0, len(assignees))
	for _, assignee := range assignees {
		slots = append(slots, store.Slot{Assignee: strings.TrimSpace(assignee), Status: store.StatusPending})
	}
	return slots
}

// WorkItem reads back a work item with its nodes and slots.
func (s *Service) WorkItem(ctx context.Context, ac AuthContext, workItemID string) (store.WorkItem, error) {
	if err := ac.Validate(); err != nil {
		return store.WorkItem{}, err
	}
	if strings.TrimSpace(workItemID) == "" {
		return store.WorkItem{}, invalidArgument("work item id is required")
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return store.WorkItem{}, err
	}
	return s.dir.GetWorkItem(ctx, workItemID)
}

// CompleteStep completes assignee's slot on behalf of the caller. Callers
// may only complete their own slot, or the slot of a pooled review whose
// group they belong to.
func (s *Service) CompleteStep(ctx context.Context, ac AuthContext, workItemID, assignee string) (store.WorkItem, error) {
	if err := ac.Validate(); err != nil {
		return store.WorkItem{}, err
	}
	if strings.TrimSpace(workItemID) == "" {
		return store.WorkItem{}, invalidArgument("work item id is required")
	}
	if strings.TrimSpace(assignee) == "" {
		return store.WorkItem{}, invalidArgument("assignee is required")
	}
	if err := s.authenticate(ctx, ac); err != nil {
		return store.WorkItem{}, err
	}

	item, err := s.dir.GetWorkItem(ctx, workItemID)
	if err != nil {
		return store.WorkItem{}, err
	}
	if err := s.mayComplete(ctx, ac.Principal, item, assignee); err != nil {
		return store.WorkItem{}, err
	}
	return s.dir.CompleteWorkItemStep(ctx, workItemID, assignee, ac.Principal)
}

func (s *Service) mayComplete(ctx context.Context, principal string, item store.WorkItem, assignee string) error {
	if item.Kind != store.KindPooledReview || assignee != item.Group {
		if assignee == principal {
			return nil
		}
		return remoteFailure(DetailForbidden, principal+" may not complete the slot of "+assignee, nil)
	}
	group, err := s.dir.GetGroup(ctx, item.Group)
	if err != nil {
		return err
	}
	for _, member := range group.Members {
		if member == principal {
			return nil
		}
	}
	return remoteFailure(DetailForbidden, principal+" is not a member of "+item.Group, nil)
}

func (s *Service) notifyAssignees(ctx context.Context, item store.WorkItem) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}

	principals := make([]string, 0, len(item.Slots))
	for _, slot := range item.Slots {
		principals = append(principals, slot.Assignee)
	}
	if item.Kind == store.KindPooledReview {
		group, err := s.dir.GetGroup(ctx, item.Group)
		if err != nil {
			s.log.Warn("notify pooled group", zap.String("work_item", item.ID), zap.Error(err))
			return
		}
		principals = group.Members
	}

	var recipients []string
	for _, principal := range principals {
		user, err := s.dir.GetUser(ctx, principal)
		if err != nil {
			s.log.Warn("notify lookup", zap.String("principal", principal), zap.Error(err))
			continue
		}
		if user.Email != "" {
			recipients = append(recipients, user.Email)
		}
	}

	documents := make([]string, 0, len(item.Nodes))
	for _, node := range item.Nodes {
		documents = append(documents, node.Name)
	}
	err := s.mailer.NotifyWorkItem(recipients, email.WorkItemData{
		WorkItemID: item.ID,
		Message:    item.Message,
		Initiator:  item.Initiator,
		Priority:   item.Priority.String(),
		DueAt:      item.DueAt,
		Documents:  documents,
	})
	if err != nil {
		s.log.Warn("notify assignees", zap.String("work_item", item.ID), zap.Error(err))
	}
}
