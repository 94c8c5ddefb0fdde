package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tasktree/app/gate"
	"tasktree/app/models"
	"tasktree/app/services"
	"tasktree/app/validators"

	"github.com/charmbracelet/log"
)

const maxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// Envelope is the body of every API response.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  validators.Errors `json:"errors,omitempty"`
	Reason  *gate.Rejection   `json:"reason,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a failure envelope.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, Envelope{Success: false, Message: msg})
}

func writeSuccess(w http.ResponseWriter, status int, msg string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: msg, Data: data})
}

// writeServiceError maps service and validation errors to status codes.
func writeServiceError(w http.ResponseWriter, logger *log.Logger, err error) {
	var verrs validators.Errors
	var rej *gate.Rejection
	switch {
	case errors.As(err, &verrs):
		WriteJSON(w, http.StatusBadRequest, Envelope{Message: "Invalid input data", Errors: verrs})
	case errors.As(err, &rej):
		WriteJSON(w, http.StatusConflict, Envelope{Message: rej.Error(), Reason: rej})
	case errors.Is(err, errBodyTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, services.ErrNestingTooDeep):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrParentNotFound),
		errors.Is(err, services.ErrCommentNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("request failed", "err", err)
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, validators.Errors{{Message: "request body could not be read"}}
	}
	return body, nil
}

// userID returns the caller placed in the context by the user scope middleware.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	u, ok := models.UserFromContext(r.Context())
	if !ok || u.ID == "" {
		WriteError(w, http.StatusUnauthorized, "Access denied. No user provided")
		return "", false
	}
	return u.ID, true
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}
