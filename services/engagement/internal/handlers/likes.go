package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

type toggleLikeRequest struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
	Action    string `json:"action"`
}

type toggleLikeResponse struct {
	Liked bool `json:"liked"`
}

type likeStatusResponse struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

// GetLikeStatus handles GET /likes?post_id=|comment_id=
func GetLikeStatus(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		target := domain.Target{
			PostID:    strings.TrimSpace(q.Get("post_id")),
			CommentID: strings.TrimSpace(q.Get("comment_id")),
		}
		liked, count, err := svc.LikeStatus(r.Context(), currentUser(r), target)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, likeStatusResponse{Liked: liked, Count: count})
	}
}

// ToggleLike handles POST /likes
func ToggleLike(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[toggleLikeRequest](w, r)
		if !ok {
			return
		}
		target := domain.Target{
			PostID:    strings.TrimSpace(req.PostID),
			CommentID: strings.TrimSpace(req.CommentID),
		}
		liked, err := svc.ToggleLike(r.Context(), currentUser(r), target, engagement.ParseAction(req.Action))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, toggleLikeResponse{Liked: liked})
	}
}
