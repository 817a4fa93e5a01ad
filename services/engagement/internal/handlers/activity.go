package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

type activityResponse struct {
	Activities []domain.Activity `json:"activities"`
}

type sessionActivityResponse struct {
	Entries []engagement.SessionEntry `json:"entries"`
}

// GetUserStats handles GET /user-stats
func GetUserStats(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.UserStats(r.Context(), currentUser(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, st)
	}
}

// GetActivity handles GET /activity?limit=
func GetActivity(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", engagement.DefaultFeedLimit)
		items, err := svc.RecentActivity(r.Context(), currentUser(r), limit)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, activityResponse{Activities: items})
	}
}

// GetSessionActivity handles GET /activity/session
func GetSessionActivity(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == "" {
			writeServiceError(w, r, log, domain.Errorf(domain.ErrAuthRequired, "authentication required"))
			return
		}
		entries := svc.SessionActivity(auth.SessionIDFromContext(r.Context()))
		api.WriteJSON(w, http.StatusOK, sessionActivityResponse{Entries: entries})
	}
}
