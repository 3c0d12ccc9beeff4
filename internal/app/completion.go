package app

import "contentflow/internal/store"

// completionPlan lists the slots to complete right after item is created:
// every slot when autoComplete is set, none otherwise.
func completionPlan(autoComplete bool, item store.WorkItem) []string {
	if !autoComplete {
		return nil
	}
	assignees := make([]string, 0, len(item.Slots))
	for _, slot := range item.Slots {
		assignees = append(assignees, slot.Assignee)
	}
	return assignees
}
