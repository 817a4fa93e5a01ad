package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

const (
	defaultSavedLimit = 20
	maxSavedLimit     = 100
)

type toggleSaveRequest struct {
	PostID string `json:"post_id"`
	Action string `json:"action"`
}

type toggleSaveResponse struct {
	Saved bool `json:"saved"`
}

type savedPostsResponse struct {
	SavedPosts []domain.SavedPostWithPost `json:"saved_posts"`
	Total      int                        `json:"total"`
	Page       int                        `json:"page"`
	Limit      int                        `json:"limit"`
}

// ListSavedPosts handles GET /saved-posts?page=&limit=
func ListSavedPosts(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", defaultSavedLimit)
		if limit > maxSavedLimit {
			limit = maxSavedLimit
		}

		items, total, err := svc.ListSavedPosts(r.Context(), currentUser(r), page, limit)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, savedPostsResponse{SavedPosts: items, Total: total, Page: page, Limit: limit})
	}
}

// ToggleSave handles POST /saved-posts
func ToggleSave(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[toggleSaveRequest](w, r)
		if !ok {
			return
		}
		saved, err := svc.ToggleSave(r.Context(), currentUser(r), req.PostID, engagement.ParseAction(req.Action))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, toggleSaveResponse{Saved: saved})
	}
}
