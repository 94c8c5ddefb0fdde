package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasktree/app/gate"
	"tasktree/app/models"
	"tasktree/app/store"
	"tasktree/app/tree"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrParentNotFound  = errors.New("parent task not found")
	ErrNestingTooDeep  = errors.New("subtasks cannot have subtasks of their own")
	ErrCommentNotFound = errors.New("comment not found")
)

// TaskService handles task-related operations.
type TaskService struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// NewTaskService creates a new instance of TaskService.
func NewTaskService(st store.Store, logger *log.Logger) *TaskService {
	return &TaskService{
		store:  st,
		logger: logger.With("component", "tasks"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for timestamps.
func (s *TaskService) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the service's current time.
func (s *TaskService) Now() time.Time {
	return s.now()
}

// GetTasks retrieves the user's task tree, filtered and paged.
func (s *TaskService) GetTasks(ctx context.Context, userID string, q models.TaskQuery) (models.TaskPage, error) {
	tasks, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return models.TaskPage{}, err
	}
	roots := tree.Filter(tree.Build(tasks), q)
	return tree.Paginate(roots, q.Page, q.Limit), nil
}

// GetTaskByID retrieves a single task with its subtasks and comments.
func (s *TaskService) GetTaskByID(ctx context.Context, userID, taskID string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, notFound(err, ErrTaskNotFound)
	}
	subs, err := s.store.ListSubtasks(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	tree.Attach(task, subs)
	return task, nil
}

// CreateTask adds a new task, or a subtask when in.ParentID is set.
func (s *TaskService) CreateTask(ctx context.Context, userID string, in models.TaskInput) (*models.Task, error) {
	now := s.now()
	task := &models.Task{
		ID:          uuid.Must(uuid.NewV7()).String(),
		UserID:      userID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Status:      models.StatusPending,
		Priority:    in.Priority,
		Category:    strings.TrimSpace(in.Category),
		Tags:        normalizeTags(in.Tags),
		DueDate:     in.DueDate,
		Subtasks:    []models.Task{},
		Comments:    []models.Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	if task.Category == "" {
		task.Category = models.DefaultCategory
	}
	if in.ParentID != nil && strings.TrimSpace(*in.ParentID) != "" {
		parentID := strings.TrimSpace(*in.ParentID)
		task.ParentID = &parentID
	}

	err := s.store.CreateTask(ctx, task, func(parent *models.Task) error {
		if parent == nil {
			return nil
		}
		if parent.IsSubtask() {
			return ErrNestingTooDeep
		}
		return gate.AdmitSubtask(*parent).Err()
	})
	if err != nil {
		if task.IsSubtask() && errors.Is(err, store.ErrNotFound) {
			return nil, ErrParentNotFound
		}
		s.logRejection(err, userID, task.ID)
		return nil, err
	}

	s.logger.Info("task created", "user", userID, "task", task.ID, "parent", derefOr(task.ParentID, ""))
	return task, nil
}

// UpdateTask applies a partial update. A requested status change goes
// through the completion gate inside the same store transaction.
func (s *TaskService) UpdateTask(ctx context.Context, userID, taskID string, upd models.TaskUpdate) (*models.Task, error) {
	now := s.now()
	var subtasks []models.Task
	updated, err := s.store.UpdateTask(ctx, userID, taskID, func(snap *store.Snapshot) error {
		t := &snap.Task
		if upd.Title != nil {
			t.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Description != nil {
			t.Description = strings.TrimSpace(*upd.Description)
		}
		if upd.Priority != nil {
			t.Priority = *upd.Priority
		}
		if upd.Category != nil {
			t.Category = strings.TrimSpace(*upd.Category)
			if t.Category == "" {
				t.Category = models.DefaultCategory
			}
		}
		if upd.Tags != nil {
			t.Tags = normalizeTags(*upd.Tags)
		}
		if upd.ClearDueDate {
			t.DueDate = nil
		} else if upd.DueDate != nil {
			t.DueDate = upd.DueDate
		}

		if status := upd.RequestedStatus(); status != nil {
			if err := gate.Evaluate(*t, *status, snap.Parent, snap.Subtasks).Err(); err != nil {
				return err
			}
			gate.Stamp(t, *status, now)
		}

		t.UpdatedAt = now
		subtasks = snap.Subtasks
		return nil
	})
	if err != nil {
		s.logRejection(err, userID, taskID)
		return nil, notFound(err, ErrTaskNotFound)
	}

	tree.Attach(updated, subtasks)
	s.logger.Info("task updated", "user", userID, "task", taskID, "status", updated.Status)
	return updated, nil
}

// ChangeStatus moves a task to status, subject to the completion gate.
func (s *TaskService) ChangeStatus(ctx context.Context, userID, taskID string, status models.Status) (*models.Task, error) {
	return s.UpdateTask(ctx, userID, taskID, models.TaskUpdate{Status: &status})
}

// DeleteTask deletes a task together with its subtasks and their comments.
func (s *TaskService) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := s.store.DeleteTask(ctx, userID, taskID); err != nil {
		return notFound(err, ErrTaskNotFound)
	}
	s.logger.Info("task deleted", "user", userID, "task", taskID)
	return nil
}

// Clear removes every task of userID, or of all users when userID is empty.
func (s *TaskService) Clear(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("tasks cleared", "user", userID)
	return nil
}

func (s *TaskService) logRejection(err error, userID, taskID string) {
	var rej *gate.Rejection
	if errors.As(err, &rej) {
		s.logger.Warn("status change rejected", "user", userID, "task", taskID, "reason", rej.Code)
		return
	}
	if errors.Is(err, ErrNestingTooDeep) {
		s.logger.Debug("subtask rejected", "user", userID, "reason", err)
	}
}

// notFound maps store.ErrNotFound to the service-level sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	if err != nil {
		var rej *gate.Rejection
		if errors.As(err, &rej) || errors.Is(err, ErrNestingTooDeep) {
			return err
		}
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
