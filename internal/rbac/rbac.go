// Package rbac holds the site roles a content platform grants its members.
package rbac

type Role string
type Action string

const (
	RoleConsumer     Role = "consumer"
	RoleContributor  Role = "contributor"
	RoleCollaborator Role = "collaborator"
	RoleManager      Role = "manager"
)

const (
	ActionRead     Action = "read"
	ActionAnnotate Action = "annotate"
	ActionReview   Action = "review"
	ActionAdmin    Action = "admin"
)

// Can reports whether a member holding role may perform action on site
// content. An empty role belongs to a non-member and permits nothing.
func Can(role Role, action Action) bool {
	switch role {
	case RoleManager:
		return true
	case RoleCollaborator:
		return action == ActionRead || action == ActionAnnotate || action == ActionReview
	case RoleContributor:
		return action == ActionRead || action == ActionAnnotate
	case RoleConsumer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a stored role name onto a known role. Unknown non-empty
// names fall back to consumer; an empty name stays empty.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleConsumer, RoleContributor, RoleCollaborator, RoleManager:
		return Role(role)
	case "":
		return ""
	default:
		return RoleConsumer
	}
}
