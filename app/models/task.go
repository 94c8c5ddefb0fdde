package models

import (
	"strings"
	"time"
)

// Status is the completion state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Priority ranks tasks for the owner.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// DefaultCategory is assigned to tasks created without a category.
const DefaultCategory = "general"

// Task represents a task with optional parent ID.
type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	Category     string     `json:"category"`
	Tags         []string   `json:"tags"`
	DueDate      *time.Time `json:"due_date"`
	ParentID     *string    `json:"parent_id"`
	Subtasks     []Task     `json:"subtasks"`
	Comments     []Comment  `json:"comments"`
	CommentCount int        `json:"comment_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// IsSubtask reports whether the task hangs under a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != nil && *t.ParentID != ""
}

// Completed reports whether the task is in the completed state.
func (t *Task) Completed() bool {
	return t.Status == StatusCompleted
}

// Matches reports whether the title or description contains the search text, case-insensitively.
func (t *Task) Matches(search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), search) ||
		strings.Contains(strings.ToLower(t.Description), search)
}

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"due_date"`
	ParentID    *string    `json:"parent_id"`
}

// TaskUpdate carries a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *Status   `json:"status"`
	Completed   *bool     `json:"completed"`
	Priority    *Priority `json:"priority"`
	Category    *string   `json:"category"`
	Tags        *[]string `json:"tags"`
	// DueDate is set when the field is present; ClearDueDate when it was null or empty.
	DueDate      *time.Time `json:"-"`
	ClearDueDate bool       `json:"-"`
}

// RequestedStatus resolves the status field and the legacy completed flag into one value.
func (u *TaskUpdate) RequestedStatus() *Status {
	if u.Status != nil {
		return u.Status
	}
	if u.Completed != nil {
		s := StatusPending
		if *u.Completed {
			s = StatusCompleted
		}
		return &s
	}
	return nil
}

// TaskQuery filters and pages the top-level task list.
type TaskQuery struct {
	Status   Status
	Priority Priority
	Search   string
	Page     int
	Limit    int
}

// Pagination describes one page of top-level tasks.
type Pagination struct {
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
	TotalItems   int `json:"total_items"`
	ItemsPerPage int `json:"items_per_page"`
}

// TaskPage is a page of top-level tasks with their subtasks attached.
type TaskPage struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}
