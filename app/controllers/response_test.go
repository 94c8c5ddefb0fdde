package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tasktree/app/gate"
	"tasktree/app/services"
	"tasktree/app/validators"

	"github.com/charmbracelet/log"
)

func TestWriteServiceError(t *testing.T) {
	logger := log.New(io.Discard)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason gate.ReasonCode
	}{
		{"validation", validators.Errors{{Field: "title", Message: "required"}}, http.StatusBadRequest, ""},
		{"nesting", services.ErrNestingTooDeep, http.StatusBadRequest, ""},
		{"task not found", services.ErrTaskNotFound, http.StatusNotFound, ""},
		{"parent not found", services.ErrParentNotFound, http.StatusNotFound, ""},
		{"comment not found", services.ErrCommentNotFound, http.StatusNotFound, ""},
		{"pending subtasks", gate.HasPendingSubtasks(2), http.StatusConflict, gate.ReasonHasPendingSubtasks},
		{"parent completed", gate.ParentAlreadyCompleted(), http.StatusConflict, gate.ReasonParentAlreadyCompleted},
		{"body too large", errBodyTooLarge, http.StatusRequestEntityTooLarge, ""},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(rr, logger, tt.err)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			var env Envelope
			if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if env.Success {
				t.Error("Expected success=false")
			}
			if tt.wantReason != "" {
				if env.Reason == nil || env.Reason.Code != tt.wantReason {
					t.Errorf("Expected reason %s, got %+v", tt.wantReason, env.Reason)
				}
				if env.Message != tt.err.Error() {
					t.Errorf("Expected message %q, got %q", tt.err.Error(), env.Message)
				}
			}
			if tt.wantStatus == http.StatusInternalServerError && env.Message != "Internal server error" {
				t.Errorf("Expected store details hidden, got %q", env.Message)
			}
		})
	}
}

func TestUserIDRequired(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)

	if _, ok := userID(rr, req); ok {
		t.Fatal("Expected no user without context")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rr.Code)
	}
}

func TestReadBodyLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"t"}`))
		body, err := readBody(rr, req)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if string(body) != `{"title":"t"}` {
			t.Errorf("Unexpected body %q", body)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		payload := `{"title":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(payload))
		_, err := readBody(rr, req)
		if !errors.Is(err, errBodyTooLarge) {
			t.Fatalf("Expected errBodyTooLarge, got %v", err)
		}

		writeServiceError(rr, log.New(io.Discard), err)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected 413, got %d", rr.Code)
		}
	})
}
