// Package gate decides whether a task may change status given its parent and
// direct subtasks.
//
// The rules only look one level up and one level down:
//
//   - a task with pending subtasks cannot be completed;
//   - a subtask cannot go back to pending while its parent is completed.
//
// Completion never cascades to subtasks.
package gate

import (
	"fmt"
	"time"

	"tasktree/app/models"
)

// ReasonCode identifies why a transition was rejected.
type ReasonCode string

const (
	ReasonHasPendingSubtasks     ReasonCode = "has_pending_subtasks"
	ReasonParentAlreadyCompleted ReasonCode = "parent_already_completed"
)

// Rejection is the structured reason returned for a refused transition.
type Rejection struct {
	Code            ReasonCode `json:"code"`
	PendingSubtasks int        `json:"pending_subtasks,omitempty"`

	// admission marks a refused subtask creation rather than a reopen.
	admission bool
}

// Error renders the user-facing message.
func (r *Rejection) Error() string {
	switch r.Code {
	case ReasonHasPendingSubtasks:
		noun := "subtask"
		if r.PendingSubtasks != 1 {
			noun = "subtasks"
		}
		return fmt.Sprintf("cannot complete task: %d %s pending", r.PendingSubtasks, noun)
	case ReasonParentAlreadyCompleted:
		if r.admission {
			return "cannot add a subtask to a completed task"
		}
		return "cannot mark subtask pending while its parent task is completed"
	}
	return string(r.Code)
}

// HasPendingSubtasks builds the rejection for a parent with n pending subtasks.
func HasPendingSubtasks(n int) *Rejection {
	return &Rejection{Code: ReasonHasPendingSubtasks, PendingSubtasks: n}
}

// ParentAlreadyCompleted builds the rejection for reopening a subtask of a completed parent.
func ParentAlreadyCompleted() *Rejection {
	return &Rejection{Code: ReasonParentAlreadyCompleted}
}

// Decision is the outcome of Evaluate. Rejection is nil when Allowed.
type Decision struct {
	Allowed   bool
	Rejection *Rejection
}

// Allow is the decision for a legal transition.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Reject wraps r into a refused decision.
func Reject(r *Rejection) Decision {
	return Decision{Rejection: r}
}

// Err returns the rejection as an error, or nil when the transition is allowed.
func (d Decision) Err() error {
	if d.Allowed || d.Rejection == nil {
		return nil
	}
	return d.Rejection
}

// Evaluate decides whether task may move to requested. parent is nil for
// top-level tasks; subtasks holds the direct children only.
func Evaluate(task models.Task, requested models.Status, parent *models.Task, subtasks []models.Task) Decision {
	switch requested {
	case models.StatusCompleted:
		if n := CountPending(subtasks); n > 0 {
			return Reject(HasPendingSubtasks(n))
		}
	case models.StatusPending:
		if task.IsSubtask() && parent != nil && parent.Completed() {
			return Reject(ParentAlreadyCompleted())
		}
	}
	return Allow()
}

// AdmitSubtask decides whether a new pending subtask may be attached to parent.
// A completed parent would otherwise end up with a pending child.
func AdmitSubtask(parent models.Task) Decision {
	if parent.Completed() {
		return Reject(&Rejection{Code: ReasonParentAlreadyCompleted, admission: true})
	}
	return Allow()
}

// CountPending returns how many of tasks are still pending.
func CountPending(tasks []models.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == models.StatusPending {
			n++
		}
	}
	return n
}

// Stamp applies status to task and maintains CompletedAt: set on a change to
// completed, cleared on a change away from it. Repeating the current status
// leaves the timestamp alone.
func Stamp(task *models.Task, status models.Status, now time.Time) {
	if task.Status == status {
		if status == models.StatusCompleted && task.CompletedAt == nil {
			task.CompletedAt = &now
		}
		return
	}
	task.Status = status
	if status == models.StatusCompleted {
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}
}
