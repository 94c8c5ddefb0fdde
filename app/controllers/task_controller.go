package controllers

import (
	"net/http"
	"strconv"

	"tasktree/app/models"
	"tasktree/app/services"
	"tasktree/app/validators"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// TaskController handles HTTP requests for tasks.
type TaskController struct {
	Service *services.TaskService
	logger  *log.Logger
}

// NewTaskController creates a new TaskController.
func NewTaskController(service *services.TaskService, logger *log.Logger) *TaskController {
	return &TaskController{Service: service, logger: logger.With("component", "http")}
}

// GetTasks handles GET /api/tasks.
func (c *TaskController) GetTasks(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	q, err := parseTaskQuery(r)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}

	page, err := c.Service.GetTasks(r.Context(), uid, q)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Tasks retrieved successfully", page)
}

// CreateTask handles POST /api/tasks.
func (c *TaskController) CreateTask(w http.ResponseWriter, r *http.Request) {
	c.create(w, r, "")
}

// CreateSubtask handles POST /api/tasks/{taskID}/subtasks.
func (c *TaskController) CreateSubtask(w http.ResponseWriter, r *http.Request) {
	c.create(w, r, mux.Vars(r)["taskID"])
}

func (c *TaskController) create(w http.ResponseWriter, r *http.Request, parentID string) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	in, err := validators.ValidateCreateTask(body, c.Service.Now())
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	msg := "Task created successfully"
	if parentID != "" {
		in.ParentID = &parentID
		msg = "Subtask created successfully"
	}

	task, err := c.Service.CreateTask(r.Context(), uid, in)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, msg, task)
}

// GetTaskByID handles GET /api/tasks/{taskID}.
func (c *TaskController) GetTaskByID(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	task, err := c.Service.GetTaskByID(r.Context(), uid, mux.Vars(r)["taskID"])
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task retrieved successfully", task)
}

// UpdateTask handles PUT /api/tasks/{taskID}.
func (c *TaskController) UpdateTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	upd, err := validators.ValidateUpdateTask(body)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}

	task, err := c.Service.UpdateTask(r.Context(), uid, mux.Vars(r)["taskID"], upd)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task updated successfully", task)
}

// ChangeStatus handles PATCH /api/tasks/{taskID}/status.
func (c *TaskController) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	status, err := validators.ValidateStatus(body)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}

	task, err := c.Service.ChangeStatus(r.Context(), uid, mux.Vars(r)["taskID"], status)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task status updated successfully", task)
}

// DeleteTask handles DELETE /api/tasks/{taskID}.
func (c *TaskController) DeleteTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := c.Service.DeleteTask(r.Context(), uid, mux.Vars(r)["taskID"]); err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Task deleted successfully", nil)
}

// ClearUserTasks handles DELETE /api/admin/users/{userID}/tasks.
func (c *TaskController) ClearUserTasks(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["userID"]
	if err := c.Service.Clear(r.Context(), target); err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Tasks cleared successfully", map[string]string{"user_id": target})
}

func parseTaskQuery(r *http.Request) (models.TaskQuery, error) {
	v := r.URL.Query()
	q := models.TaskQuery{
		Status:   models.Status(v.Get("status")),
		Priority: models.Priority(v.Get("priority")),
		Search:   v.Get("search"),
	}

	var errs validators.Errors
	if q.Status != "" && !q.Status.Valid() {
		errs = append(errs, validators.FieldError{Field: "status", Message: "must be pending or completed"})
	}
	if q.Priority != "" && !q.Priority.Valid() {
		errs = append(errs, validators.FieldError{Field: "priority", Message: "must be low, medium or high"})
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &q.Page}, {"limit", &q.Limit}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errs = append(errs, validators.FieldError{Field: p.name, Message: "must be a positive integer"})
			continue
		}
		*p.dst = n
	}
	if len(errs) > 0 {
		return q, errs
	}
	return q, nil
}
