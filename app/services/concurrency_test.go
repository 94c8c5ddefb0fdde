package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tasktree/app/gate"
	"tasktree/app/models"
	"tasktree/app/store"

	"github.com/charmbracelet/log"
)

// newFileService opens a file-backed store so writers go through the same
// locking path as a deployed server.
func newFileService(t *testing.T) *TaskService {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}

	svc := NewTaskService(st, log.New(io.Discard))
	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	})
	return svc
}

func checkStamp(t *testing.T, task models.Task) {
	t.Helper()
	if task.Completed() != (task.CompletedAt != nil) {
		t.Errorf("Task %s is %s with completed_at %v", task.Title, task.Status, task.CompletedAt)
	}
}

func TestConcurrentCompleteAndAddSubtask(t *testing.T) {
	svc := newFileService(t)
	ctx := context.Background()

	const (
		rounds  = 20
		workers = 8
	)

	for round := 0; round < rounds; round++ {
		parent := mustCreate(t, svc, "u1", fmt.Sprintf("P%d", round), nil)
		first := mustCreate(t, svc, "u1", fmt.Sprintf("P%d-S0", round), parent)

		var wg sync.WaitGroup
		errs := make(chan error, 3*workers)
		for i := 0; i < workers; i++ {
			wg.Add(3)
			go func() {
				defer wg.Done()
				_, err := svc.ChangeStatus(ctx, "u1", parent.ID, models.StatusCompleted)
				errs <- err
			}()
			go func(i int) {
				defer wg.Done()
				title := fmt.Sprintf("P%d-S%d", round, i+1)
				_, err := svc.CreateTask(ctx, "u1", models.TaskInput{Title: title, ParentID: &parent.ID})
				errs <- err
			}(i)
			go func() {
				defer wg.Done()
				_, err := svc.ChangeStatus(ctx, "u1", first.ID, models.StatusCompleted)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			var rej *gate.Rejection
			if err != nil && !errors.As(err, &rej) {
				t.Fatalf("Round %d: unexpected error %v", round, err)
			}
		}

		got, err := svc.GetTaskByID(ctx, "u1", parent.ID)
		if err != nil {
			t.Fatalf("Round %d: failed to reload parent: %v", round, err)
		}
		if got.Completed() {
			if n := gate.CountPending(got.Subtasks); n != 0 {
				t.Errorf("Round %d: completed parent has %d pending subtasks", round, n)
			}
		}
		checkStamp(t, *got)
		for _, sub := range got.Subtasks {
			checkStamp(t, sub)
		}
	}
}

func TestConcurrentReopenAndCompleteParent(t *testing.T) {
	svc := newFileService(t)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		parent := mustCreate(t, svc, "u1", fmt.Sprintf("P%d", round), nil)
		sub := mustCreate(t, svc, "u1", fmt.Sprintf("P%d-S", round), parent)
		mustStatus(t, svc, sub, models.StatusCompleted)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				svc.ChangeStatus(ctx, "u1", parent.ID, models.StatusCompleted)
			}()
			go func() {
				defer wg.Done()
				svc.ChangeStatus(ctx, "u1", sub.ID, models.StatusPending)
			}()
		}
		wg.Wait()

		got, err := svc.GetTaskByID(ctx, "u1", parent.ID)
		if err != nil {
			t.Fatalf("Round %d: failed to reload parent: %v", round, err)
		}
		if got.Completed() && gate.CountPending(got.Subtasks) != 0 {
			t.Errorf("Round %d: completed parent kept a reopened subtask", round)
		}
		checkStamp(t, *got)
		for _, s := range got.Subtasks {
			checkStamp(t, s)
		}
	}
}
