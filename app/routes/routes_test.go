package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasktree/app/controllers"
	"tasktree/app/models"
	"tasktree/app/services"
	"tasktree/app/store"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
	Reason *struct {
		Code            string `json:"code"`
		PendingSubtasks int    `json:"pending_subtasks"`
	} `json:"reason"`
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}

	logger := log.New(io.Discard)
	svc := services.NewTaskService(st, logger)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	router := mux.NewRouter()
	RegisterRoutes(router, controllers.NewTaskController(svc, logger), controllers.NewCommentController(svc, logger), logger)
	return router
}

func do(t *testing.T, router http.Handler, method, path, user string, body any) (int, envelope) {
	t.Helper()
	return doAs(t, router, method, path, user, "", body)
}

func doAs(t *testing.T, router http.Handler, method, path, user, role string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to decode %s %s response %q: %v", method, path, rr.Body.String(), err)
	}
	return rr.Code, env
}

func decodeTask(t *testing.T, env envelope) models.Task {
	t.Helper()
	var task models.Task
	if err := json.Unmarshal(env.Data, &task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}
	return task
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	code, env := do(t, router, http.MethodGet, "/health", "", nil)
	if code != http.StatusOK || !env.Success {
		t.Errorf("Expected healthy response, got %d %+v", code, env)
	}
}

func TestRequiresUser(t *testing.T) {
	router := newTestRouter(t)
	code, env := do(t, router, http.MethodGet, "/api/tasks", "", nil)
	if code != http.StatusUnauthorized || env.Success {
		t.Errorf("Expected 401, got %d %+v", code, env)
	}
}

func TestCompletionGateOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	code, env := do(t, router, http.MethodPost, "/api/tasks", "u1", map[string]any{"title": "P"})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %+v", code, env)
	}
	p := decodeTask(t, env)

	code, env = do(t, router, http.MethodPost, "/api/tasks/"+p.ID+"/subtasks", "u1", map[string]any{"title": "S1"})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %+v", code, env)
	}
	s1 := decodeTask(t, env)
	if s1.ParentID == nil || *s1.ParentID != p.ID {
		t.Fatalf("Expected S1 under P, got %+v", s1.ParentID)
	}

	code, env = do(t, router, http.MethodPost, "/api/tasks", "u1", map[string]any{"title": "S2", "parent_id": p.ID})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %+v", code, env)
	}
	s2 := decodeTask(t, env)

	code, _ = do(t, router, http.MethodPatch, "/api/tasks/"+s2.ID+"/status", "u1", map[string]any{"status": "completed"})
	if code != http.StatusOK {
		t.Fatalf("Expected 200 completing S2, got %d", code)
	}

	code, env = do(t, router, http.MethodPatch, "/api/tasks/"+p.ID+"/status", "u1", map[string]any{"status": "completed"})
	if code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", code)
	}
	if env.Message != "cannot complete task: 1 subtask pending" {
		t.Errorf("Unexpected message %q", env.Message)
	}
	if env.Reason == nil || env.Reason.Code != "has_pending_subtasks" || env.Reason.PendingSubtasks != 1 {
		t.Errorf("Unexpected reason %+v", env.Reason)
	}

	code, _ = do(t, router, http.MethodPut, "/api/tasks/"+s1.ID, "u1", map[string]any{"completed": true})
	if code != http.StatusOK {
		t.Fatalf("Expected 200 completing S1, got %d", code)
	}
	code, env = do(t, router, http.MethodPatch, "/api/tasks/"+p.ID+"/status", "u1", map[string]any{"status": "completed"})
	if code != http.StatusOK {
		t.Fatalf("Expected 200 completing P, got %d %+v", code, env)
	}
	if done := decodeTask(t, env); done.CompletedAt == nil {
		t.Error("Expected completed_at on P")
	}

	code, env = do(t, router, http.MethodPatch, "/api/tasks/"+s1.ID+"/status", "u1", map[string]any{"status": "pending"})
	if code != http.StatusConflict || env.Reason == nil || env.Reason.Code != "parent_already_completed" {
		t.Errorf("Expected parent_already_completed, got %d %+v", code, env.Reason)
	}

	code, env = do(t, router, http.MethodPost, "/api/tasks/"+p.ID+"/subtasks", "u1", map[string]any{"title": "late"})
	if code != http.StatusConflict || env.Reason == nil || env.Reason.Code != "parent_already_completed" {
		t.Errorf("Expected parent_already_completed for new subtask, got %d %+v", code, env.Reason)
	}
	if env.Message != "cannot add a subtask to a completed task" {
		t.Errorf("Unexpected message %q", env.Message)
	}

	code, _ = do(t, router, http.MethodPost, "/api/tasks/"+s1.ID+"/subtasks", "u1", map[string]any{"title": "deep"})
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for nested subtask, got %d", code)
	}
}

func TestTaskListAndCrud(t *testing.T) {
	router := newTestRouter(t)

	for _, title := range []string{"one", "two", "three"} {
		if code, env := do(t, router, http.MethodPost, "/api/tasks", "u1", map[string]any{"title": title, "priority": "high"}); code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d %+v", code, env)
		}
	}
	do(t, router, http.MethodPost, "/api/tasks", "u2", map[string]any{"title": "other"})

	code, env := do(t, router, http.MethodGet, "/api/tasks?limit=2&page=1", "u1", nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var page models.TaskPage
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("Failed to decode page: %v", err)
	}
	if len(page.Tasks) != 2 || page.Pagination.TotalItems != 3 || page.Pagination.TotalPages != 2 {
		t.Errorf("Unexpected page %+v", page.Pagination)
	}
	if page.Tasks[0].Title != "three" {
		t.Errorf("Expected newest first, got %s", page.Tasks[0].Title)
	}

	if code, _ := do(t, router, http.MethodGet, "/api/tasks?status=archived", "u1", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad status filter, got %d", code)
	}

	id := page.Tasks[0].ID
	code, env = do(t, router, http.MethodPut, "/api/tasks/"+id, "u1", map[string]any{"title": "", "priority": "urgent"})
	if code != http.StatusBadRequest || len(env.Errors) < 2 {
		t.Errorf("Expected 2 validation errors, got %d %+v", code, env.Errors)
	}

	if code, _ := do(t, router, http.MethodGet, "/api/tasks/"+id, "u2", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for other user, got %d", code)
	}
	if code, _ := do(t, router, http.MethodDelete, "/api/tasks/"+id, "u1", nil); code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", code)
	}
	if code, _ := do(t, router, http.MethodGet, "/api/tasks/"+id, "u1", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", code)
	}
}

func TestCommentRoutes(t *testing.T) {
	router := newTestRouter(t)

	_, env := do(t, router, http.MethodPost, "/api/tasks", "u1", map[string]any{"title": "T"})
	task := decodeTask(t, env)

	code, env := do(t, router, http.MethodPost, "/api/tasks/"+task.ID+"/comments", "u1", map[string]any{"text": "hello"})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %+v", code, env)
	}
	var c models.Comment
	if err := json.Unmarshal(env.Data, &c); err != nil {
		t.Fatalf("Failed to decode comment: %v", err)
	}
	if c.Author != "u1" {
		t.Errorf("Expected author u1, got %s", c.Author)
	}

	base := "/api/tasks/" + task.ID + "/comments/"
	if code, _ := do(t, router, http.MethodPut, base+c.ID, "u1", map[string]any{"text": "edited"}); code != http.StatusOK {
		t.Errorf("Expected 200 on edit, got %d", code)
	}
	if code, _ := do(t, router, http.MethodPut, base+c.ID, "u1", map[string]any{"text": ""}); code != http.StatusBadRequest {
		t.Errorf("Expected 400 on empty text, got %d", code)
	}
	if code, _ := do(t, router, http.MethodDelete, base+"missing", "u1", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 on missing comment, got %d", code)
	}
	if code, _ := do(t, router, http.MethodDelete, base+c.ID, "u1", nil); code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", code)
	}
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(t)
	code, env := do(t, router, http.MethodGet, "/nope", "u1", nil)
	if code != http.StatusNotFound || env.Success {
		t.Errorf("Expected 404 envelope, got %d %+v", code, env)
	}
}

func TestAdminClearTasks(t *testing.T) {
	router := newTestRouter(t)

	for _, title := range []string{"one", "two"} {
		if code, env := do(t, router, http.MethodPost, "/api/tasks", "u2", map[string]any{"title": title}); code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d %+v", code, env)
		}
	}
	do(t, router, http.MethodPost, "/api/tasks", "u3", map[string]any{"title": "kept"})

	tests := []struct {
		name       string
		user, role string
		wantStatus int
	}{
		{"no user", "", "admin", http.StatusUnauthorized},
		{"plain user", "u1", "", http.StatusForbidden},
		{"unknown role", "u1", "root", http.StatusForbidden},
		{"admin", "root", "Admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := doAs(t, router, http.MethodDelete, "/api/admin/users/u2/tasks", tt.user, tt.role, nil)
			if code != tt.wantStatus {
				t.Errorf("Expected %d, got %d %+v", tt.wantStatus, code, env)
			}
		})
	}

	_, env := do(t, router, http.MethodGet, "/api/tasks", "u2", nil)
	var page models.TaskPage
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("Failed to decode page: %v", err)
	}
	if page.Pagination.TotalItems != 0 {
		t.Errorf("Expected u2 tasks cleared, got %d", page.Pagination.TotalItems)
	}

	_, env = do(t, router, http.MethodGet, "/api/tasks", "u3", nil)
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("Failed to decode page: %v", err)
	}
	if page.Pagination.TotalItems != 1 {
		t.Errorf("Expected u3 tasks untouched, got %d", page.Pagination.TotalItems)
	}
}

func TestOversizedBody(t *testing.T) {
	router := newTestRouter(t)
	code, env := do(t, router, http.MethodPost, "/api/tasks", "u1", map[string]any{"title": strings.Repeat("x", 2<<20)})
	if code != http.StatusRequestEntityTooLarge || env.Success {
		t.Errorf("Expected 413, got %d %+v", code, env)
	}
}
