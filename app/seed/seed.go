// Package seed loads YAML fixtures into the task store.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"tasktree/app/models"
	"tasktree/app/services"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFixture []byte

// ErrAlreadySeeded is returned by Apply when a fixture user already has tasks.
var ErrAlreadySeeded = errors.New("fixture users already have tasks; clean first or use --force")

// Fixture is the root of a seed file.
type Fixture struct {
	Users []UserFixture `yaml:"users"`
}

// UserFixture lists the tasks owned by one user.
type UserFixture struct {
	ID    string        `yaml:"id"`
	Tasks []TaskFixture `yaml:"tasks"`
}

// TaskFixture describes one task. Subtasks of subtasks are rejected by the service.
type TaskFixture struct {
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Priority    models.Priority `yaml:"priority"`
	Category    string          `yaml:"category"`
	Tags        []string        `yaml:"tags"`
	DueInDays   *int            `yaml:"due_in_days"`
	Completed   bool            `yaml:"completed"`
	Comments    []string        `yaml:"comments"`
	Subtasks    []TaskFixture   `yaml:"subtasks"`
}

// Summary counts what Apply created.
type Summary struct {
	Users    int
	Tasks    int
	Comments int
}

// Load parses the fixture at path, or the built-in fixture when path is empty.
func Load(path string) (*Fixture, error) {
	data := defaultFixture
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes fixture YAML and checks that every user has an id.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("fixture user %d has no id", i)
		}
	}
	return &f, nil
}

// Apply creates the fixture through svc so nesting and completion rules hold.
// Subtasks are completed before their parent. With force, existing tasks of
// the fixture users are removed first.
func Apply(ctx context.Context, svc *services.TaskService, f *Fixture, force bool) (Summary, error) {
	var sum Summary
	for _, u := range f.Users {
		page, err := svc.GetTasks(ctx, u.ID, models.TaskQuery{Limit: 1})
		if err != nil {
			return sum, err
		}
		if page.Pagination.TotalItems == 0 {
			continue
		}
		if !force {
			return sum, fmt.Errorf("user %s: %w", u.ID, ErrAlreadySeeded)
		}
		if err := svc.Clear(ctx, u.ID); err != nil {
			return sum, err
		}
	}

	for _, u := range f.Users {
		for _, tf := range u.Tasks {
			if err := applyTask(ctx, svc, u.ID, tf, nil, &sum); err != nil {
				return sum, fmt.Errorf("user %s, task %q: %w", u.ID, tf.Title, err)
			}
		}
		sum.Users++
	}
	return sum, nil
}

func applyTask(ctx context.Context, svc *services.TaskService, userID string, tf TaskFixture, parentID *string, sum *Summary) error {
	in := models.TaskInput{
		Title:       tf.Title,
		Description: tf.Description,
		Priority:    tf.Priority,
		Category:    tf.Category,
		Tags:        tf.Tags,
		ParentID:    parentID,
	}
	if tf.DueInDays != nil {
		due := svc.Now().Add(time.Duration(*tf.DueInDays) * 24 * time.Hour)
		in.DueDate = &due
	}

	task, err := svc.CreateTask(ctx, userID, in)
	if err != nil {
		return err
	}
	sum.Tasks++

	for _, text := range tf.Comments {
		if _, err := svc.AddComment(ctx, userID, task.ID, text, ""); err != nil {
			return err
		}
		sum.Comments++
	}
	for _, sub := range tf.Subtasks {
		if err := applyTask(ctx, svc, userID, sub, &task.ID, sum); err != nil {
			return err
		}
	}
	if tf.Completed {
		if _, err := svc.ChangeStatus(ctx, userID, task.ID, models.StatusCompleted); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes the tasks of userID, or of every user when userID is empty.
func Clean(ctx context.Context, svc *services.TaskService, userID string) error {
	return svc.Clear(ctx, userID)
}
