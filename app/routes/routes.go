package routes

import (
	"net/http"

	"tasktree/app/controllers"
	"tasktree/app/models"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all routes for the application.
func RegisterRoutes(router *mux.Router, taskController *controllers.TaskController, commentController *controllers.CommentController, logger *log.Logger) {
	router.Use(RequestLogger(logger))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		controllers.WriteError(w, http.StatusNotFound, "Route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		controllers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.HandleFunc("/health", controllers.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(UserScope)

	api.HandleFunc("/tasks", taskController.GetTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", taskController.CreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskID}", taskController.GetTaskByID).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{taskID}", taskController.UpdateTask).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{taskID}", taskController.DeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{taskID}/status", taskController.ChangeStatus).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{taskID}/subtasks", taskController.CreateSubtask).Methods(http.MethodPost)

	api.HandleFunc("/tasks/{taskID}/comments", commentController.AddComment).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskID}/comments/{commentID}", commentController.EditComment).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{taskID}/comments/{commentID}", commentController.DeleteComment).Methods(http.MethodDelete)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(RequireRole(models.RoleAdmin))
	admin.HandleFunc("/users/{userID}/tasks", taskController.ClearUserTasks).Methods(http.MethodDelete)
}
