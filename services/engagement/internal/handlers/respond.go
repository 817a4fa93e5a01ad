package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/internal/platform/httpserver"
	"github.com/example/blog-platform/services/engagement/internal/domain"
)

const maxBodyBytes = 1 << 20

// writeServiceError maps an engagement error kind onto the API envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	msg := domain.Message(err)
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		api.Unauthorized(w, "UNAUTHORIZED", msg, rid)
	case errors.Is(err, domain.ErrValidation):
		api.BadRequest(w, "VALIDATION_ERROR", msg, rid, nil)
	case errors.Is(err, domain.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", msg, rid)
	case errors.Is(err, domain.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", msg, rid)
	default:
		log.Error("request failed",
			zap.String("request_id", rid),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		api.Internal(w, rid)
	}
}

// decodeJSON reads a bounded JSON body into T, answering 400 itself on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&v); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
		return v, false
	}
	return v, true
}

func currentUser(r *http.Request) string {
	uid, _ := auth.UserIDFromContext(r.Context())
	return uid
}

// queryInt parses a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
