package routes

import (
	"net/http"
	"strings"
	"time"

	"tasktree/app/controllers"
	"tasktree/app/models"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs method, path, status and duration of every request.
func RequestLogger(logger *log.Logger) mux.MiddlewareFunc {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			}
			switch {
			case rec.status >= 500:
				logger.Error("request", fields...)
			case rec.status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

// UserScope requires an authenticated user id and places the user in the
// request context. Identity is established upstream.
func UserScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			controllers.WriteError(w, http.StatusUnauthorized, "Access denied. No user provided")
			return
		}
		role := models.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if role != models.RoleAdmin {
			role = models.RoleUser
		}
		u := &models.User{ID: id, Role: role, IsActive: true}
		next.ServeHTTP(w, r.WithContext(models.WithUser(r.Context(), u)))
	})
}

// RequireRole lets only users with role through. It must run after UserScope.
func RequireRole(role models.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := models.UserFromContext(r.Context())
			if !ok {
				controllers.WriteError(w, http.StatusUnauthorized, "Access denied. No user provided")
				return
			}
			if u.Role != role {
				controllers.WriteError(w, http.StatusForbidden, "Access denied. Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
