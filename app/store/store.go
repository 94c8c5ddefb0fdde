// Package store persists task trees. Every implementation scopes reads and
// writes to one user and runs UpdateTask as a single transaction so the
// snapshot handed to the mutation is the one that gets written.
package store

import (
	"context"
	"errors"
	"time"

	"tasktree/app/models"
)

// ErrNotFound is returned when a task or comment does not exist for the user.
var ErrNotFound = errors.New("not found")

// Snapshot is the family of a task read inside a transaction.
type Snapshot struct {
	Task     models.Task
	Parent   *models.Task
	Subtasks []models.Task
}

// Mutation edits snap.Task in place. Returning an error rolls the
// transaction back and is passed through to the caller unchanged.
type Mutation func(snap *Snapshot) error

// Admission vets the parent of a task about to be created. parent is nil for
// top-level tasks.
type Admission func(parent *models.Task) error

// Store is the contract for task persistence.
type Store interface {
	EnsureSchema(ctx context.Context) error
	ListTasks(ctx context.Context, userID string) ([]models.Task, error)
	GetTask(ctx context.Context, userID, id string) (*models.Task, error)
	ListSubtasks(ctx context.Context, userID, parentID string) ([]models.Task, error)
	CreateTask(ctx context.Context, t *models.Task, admit Admission) error
	UpdateTask(ctx context.Context, userID, id string, mutate Mutation) (*models.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error
	AddComment(ctx context.Context, userID, taskID string, c *models.Comment) error
	UpdateComment(ctx context.Context, userID, taskID, commentID, text string, at time.Time) (*models.Comment, error)
	DeleteComment(ctx context.Context, userID, taskID, commentID string) error
	// Clear removes every task of userID, or of all users when userID is empty.
	Clear(ctx context.Context, userID string) error
	Close(ctx context.Context) error
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*Neo4jStore)(nil)
)
