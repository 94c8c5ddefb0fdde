package controllers

import (
	"net/http"

	"tasktree/app/services"
	"tasktree/app/validators"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// CommentController handles HTTP requests for task comments.
type CommentController struct {
	Service *services.TaskService
	logger  *log.Logger
}

// NewCommentController creates a new CommentController.
func NewCommentController(service *services.TaskService, logger *log.Logger) *CommentController {
	return &CommentController{Service: service, logger: logger.With("component", "http")}
}

// AddComment handles POST /api/tasks/{taskID}/comments.
func (c *CommentController) AddComment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	in, err := validators.ValidateComment(body)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}

	comment, err := c.Service.AddComment(r.Context(), uid, mux.Vars(r)["taskID"], in.Text, in.Author)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Comment added successfully", comment)
}

// EditComment handles PUT /api/tasks/{taskID}/comments/{commentID}.
func (c *CommentController) EditComment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	in, err := validators.ValidateComment(body)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}

	vars := mux.Vars(r)
	comment, err := c.Service.EditComment(r.Context(), uid, vars["taskID"], vars["commentID"], in.Text)
	if err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment updated successfully", comment)
}

// DeleteComment handles DELETE /api/tasks/{taskID}/comments/{commentID}.
func (c *CommentController) DeleteComment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := c.Service.DeleteComment(r.Context(), uid, vars["taskID"], vars["commentID"]); err != nil {
		writeServiceError(w, c.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment deleted successfully", nil)
}
