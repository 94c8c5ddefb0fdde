package mcp

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"tasktree/app/models"
	"tasktree/app/services"
	"tasktree/app/store"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func newTestServer(t *testing.T) *server.MCPServer {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	svc := services.NewTaskService(st, log.New(io.Discard))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return NewServer(svc, "agent")
}

func call(t *testing.T, s *server.MCPServer, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	tool := s.GetTool(name)
	if tool == nil {
		t.Fatalf("Tool %s not found", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return result
}

func text(result *mcp.CallToolResult) string {
	return result.Content[0].(mcp.TextContent).Text
}

func mustTask(t *testing.T, result *mcp.CallToolResult) models.Task {
	t.Helper()
	if result.IsError {
		t.Fatalf("Tool returned error: %s", text(result))
	}
	var task models.Task
	if err := json.Unmarshal([]byte(text(result)), &task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}
	return task
}

func TestToolsRegistered(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"list_tasks", "get_task", "create_task", "update_task", "set_task_status", "delete_task", "add_comment"} {
		if s.GetTool(name) == nil {
			t.Errorf("Tool %s not registered", name)
		}
	}
}

func TestToolHandlers(t *testing.T) {
	s := newTestServer(t)

	parent := mustTask(t, call(t, s, "create_task", map[string]interface{}{
		"title":    "Release",
		"priority": "high",
		"tags":     "ops, launch",
	}))
	if parent.UserID != "agent" || len(parent.Tags) != 2 || parent.Priority != models.PriorityHigh {
		t.Errorf("Unexpected task %+v", parent)
	}

	child := mustTask(t, call(t, s, "create_task", map[string]interface{}{
		"title":     "Write notes",
		"parent_id": parent.ID,
	}))

	t.Run("gate rejection is a tool error", func(t *testing.T) {
		result := call(t, s, "set_task_status", map[string]interface{}{"id": parent.ID, "status": "completed"})
		if !result.IsError {
			t.Fatal("Expected completing a parent with a pending subtask to fail")
		}
		if got := text(result); got != "cannot complete task: 1 subtask pending" {
			t.Errorf("Unexpected message %q", got)
		}
	})

	t.Run("complete in order", func(t *testing.T) {
		mustTask(t, call(t, s, "set_task_status", map[string]interface{}{"id": child.ID, "status": "completed"}))
		done := mustTask(t, call(t, s, "set_task_status", map[string]interface{}{"id": parent.ID, "status": "completed"}))
		if done.Status != models.StatusCompleted {
			t.Errorf("Expected completed, got %s", done.Status)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		result := call(t, s, "set_task_status", map[string]interface{}{"id": parent.ID, "status": "done"})
		if !result.IsError {
			t.Error("Expected invalid status to fail")
		}
	})

	t.Run("update_task", func(t *testing.T) {
		updated := mustTask(t, call(t, s, "update_task", map[string]interface{}{"id": child.ID, "title": "Publish notes"}))
		if updated.Title != "Publish notes" || updated.Status != models.StatusCompleted {
			t.Errorf("Unexpected update %+v", updated)
		}
	})

	t.Run("add_comment", func(t *testing.T) {
		result := call(t, s, "add_comment", map[string]interface{}{"id": parent.ID, "text": "shipped"})
		if result.IsError {
			t.Fatalf("Tool returned error: %s", text(result))
		}
		got := mustTask(t, call(t, s, "get_task", map[string]interface{}{"id": parent.ID}))
		if got.CommentCount != 1 || got.Comments[0].Author != "agent" {
			t.Errorf("Unexpected comments %+v", got.Comments)
		}
		if len(got.Subtasks) != 1 {
			t.Errorf("Expected 1 subtask, got %d", len(got.Subtasks))
		}
	})

	t.Run("list_tasks", func(t *testing.T) {
		result := call(t, s, "list_tasks", map[string]interface{}{"search": "notes"})
		if result.IsError {
			t.Fatalf("Tool returned error: %s", text(result))
		}
		var page models.TaskPage
		if err := json.Unmarshal([]byte(text(result)), &page); err != nil {
			t.Fatalf("Failed to decode page: %v", err)
		}
		if len(page.Tasks) != 1 || page.Tasks[0].ID != parent.ID {
			t.Errorf("Expected the parent family, got %+v", page.Tasks)
		}
	})

	t.Run("validation", func(t *testing.T) {
		result := call(t, s, "create_task", map[string]interface{}{"title": strings.Repeat("x", 101)})
		if !result.IsError || !strings.Contains(text(result), "title") {
			t.Errorf("Expected title validation error, got %q", text(result))
		}
	})

	t.Run("delete_task", func(t *testing.T) {
		result := call(t, s, "delete_task", map[string]interface{}{"id": parent.ID})
		if result.IsError {
			t.Fatalf("Tool returned error: %s", text(result))
		}
		result = call(t, s, "get_task", map[string]interface{}{"id": child.ID})
		if !result.IsError || text(result) != "task not found" {
			t.Errorf("Expected subtask to be gone, got %q", text(result))
		}
	})
}
