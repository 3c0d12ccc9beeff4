package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRejected marks a request the workflow engine refused, such as an
	// unknown participant or a duplicate node name.
	ErrRejected = errors.New("rejected")
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Site struct {
	ID         string
	Title      string
	Visibility string
	CreatedAt  time.Time
}

type Group struct {
	Name        string
	DisplayName string
	Members     []string
}

const (
	NodeDocument = "document"
	NodeFolder   = "folder"
)

// Node is a document or folder. ID is stable for the lifetime of the node.
type Node struct {
	ID        string
	SiteID    string
	Name      string
	Path      string
	Kind      string
	CreatedBy string
	CreatedAt time.Time
}

type Comment struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"nodeId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

const (
	KindSingleReview   = "single-review"
	KindGroupReview    = "group-review"
	KindMultipleReview = "multiple-review"
	KindPooledReview   = "pooled-review"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
)

type Slot struct {
	Assignee    string
	Status      string
	CompletedBy string
	CompletedAt *time.Time
}

type WorkItem struct {
	ID              string
	Kind            string
	Message         string
	DueAt           *time.Time
	Priority        Priority
	Initiator       string
	Group           string
	RequiredPercent int
	Nodes           []Node
	Slots           []Slot
	Status          string
	CreatedAt       time.Time
}

// CompletedSlots counts slots in the completed state.
func (w WorkItem) CompletedSlots() int {
	count := 0
	for _, slot := range w.Slots {
		if slot.Status == StatusCompleted {
			count++
		}
	}
	return count
}

// Done reports whether enough slots are complete for the item to count as
// finished. Group and multiple reviews need RequiredPercent of their slots;
// the other kinds need their only slot.
func (w WorkItem) Done() bool {
	if len(w.Slots) == 0 {
		return false
	}
	completed := w.CompletedSlots()
	switch w.Kind {
	case KindGroupReview, KindMultipleReview:
		return completed*100 >= w.RequiredPercent*len(w.Slots) && completed > 0
	default:
		return completed == len(w.Slots)
	}
}
