// Package mcp exposes the task operations as MCP tools bound to one user.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"tasktree/app/models"
	"tasktree/app/services"
	"tasktree/app/validators"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewServer creates a new MCP server acting as userID.
func NewServer(svc *services.TaskService, userID string) *server.MCPServer {
	s := server.NewMCPServer("tasktree", Version)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List top-level tasks with their subtasks, newest first."),
		mcp.WithString("status", mcp.Description("Filter by status (pending|completed)")),
		mcp.WithString("priority", mcp.Description("Filter by priority (low|medium|high)")),
		mcp.WithString("search", mcp.Description("Case-insensitive text in title or description")),
		mcp.WithNumber("page", mcp.Description("Page number (default 1)")),
		mcp.WithNumber("limit", mcp.Description("Tasks per page (default 10, max 100)")),
	), listTasksHandler(svc, userID))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task with its subtasks and comments."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), getTaskHandler(svc, userID))

	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task, or a subtask when parent_id is given. Subtasks cannot have subtasks."),
		mcp.WithString("title", mcp.Description("Task title (max 100 chars)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description (max 500 chars)")),
		mcp.WithString("priority", mcp.Description("low|medium|high (default medium)")),
		mcp.WithString("category", mcp.Description("Category (default 'general')")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags (max 10)")),
		mcp.WithString("due_date", mcp.Description("RFC 3339 due date, not in the past")),
		mcp.WithString("parent_id", mcp.Description("ID of the parent task")),
	), createTaskHandler(svc, userID))

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update fields of an existing task. Omitted fields are left untouched."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority")),
		mcp.WithString("category", mcp.Description("New category")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags, replaces the current set")),
		mcp.WithString("due_date", mcp.Description("RFC 3339 due date, empty to clear")),
	), updateTaskHandler(svc, userID))

	s.AddTool(mcp.NewTool("set_task_status",
		mcp.WithDescription("Mark a task pending or completed. A task with pending subtasks cannot be completed; a subtask of a completed task cannot be reopened."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status (pending|completed)"), mcp.Required()),
	), setTaskStatusHandler(svc, userID))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task (cascades to subtasks and comments)."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), deleteTaskHandler(svc, userID))

	s.AddTool(mcp.NewTool("add_comment",
		mcp.WithDescription("Add a comment to a task."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Comment text (max 500 chars)"), mcp.Required()),
	), addCommentHandler(svc, userID))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func listTasksHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := models.TaskQuery{
			Status:   models.Status(mcp.ParseString(request, "status", "")),
			Priority: models.Priority(mcp.ParseString(request, "priority", "")),
			Search:   mcp.ParseString(request, "search", ""),
			Page:     mcp.ParseInt(request, "page", 0),
			Limit:    mcp.ParseInt(request, "limit", 0),
		}
		if q.Status != "" && !q.Status.Valid() {
			return mcp.NewToolResultError("status must be pending or completed"), nil
		}
		if q.Priority != "" && !q.Priority.Valid() {
			return mcp.NewToolResultError("priority must be low, medium or high"), nil
		}

		page, err := svc.GetTasks(ctx, userID, q)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(page)
	}
}

func getTaskHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := svc.GetTaskByID(ctx, userID, mcp.ParseString(request, "id", ""))
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(task)
	}
}

func createTaskHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := argumentsBody(request, "title", "description", "priority", "category", "tags", "due_date", "parent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		in, err := validators.ValidateCreateTask(body, svc.Now())
		if err != nil {
			return toolError(err), nil
		}

		task, err := svc.CreateTask(ctx, userID, in)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(task)
	}
}

func updateTaskHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := argumentsBody(request, "title", "description", "priority", "category", "tags", "due_date")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		upd, err := validators.ValidateUpdateTask(body)
		if err != nil {
			return toolError(err), nil
		}

		task, err := svc.UpdateTask(ctx, userID, mcp.ParseString(request, "id", ""), upd)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(task)
	}
}

func setTaskStatusHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := models.Status(mcp.ParseString(request, "status", ""))
		if !status.Valid() {
			return mcp.NewToolResultError("status must be pending or completed"), nil
		}

		task, err := svc.ChangeStatus(ctx, userID, mcp.ParseString(request, "id", ""), status)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(task)
	}
}

func deleteTaskHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := svc.DeleteTask(ctx, userID, mcp.ParseString(request, "id", "")); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Task deleted successfully"), nil
	}
}

func addCommentHandler(svc *services.TaskService, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := argumentsBody(request, "text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		in, err := validators.ValidateComment(body)
		if err != nil {
			return toolError(err), nil
		}

		c, err := svc.AddComment(ctx, userID, mcp.ParseString(request, "id", ""), in.Text, "")
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(c)
	}
}

// argumentsBody copies the named arguments into a JSON object so tool calls
// go through the same validation as HTTP bodies. tags is split on commas.
func argumentsBody(request mcp.CallToolRequest, keys ...string) ([]byte, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	body := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok := args[k]
		if !ok {
			continue
		}
		if k == "tags" {
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("tags must be a comma-separated string")
			}
			tags := []string{}
			for _, tag := range strings.Split(s, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
			v = tags
		}
		body[k] = v
	}
	return json.Marshal(body)
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
