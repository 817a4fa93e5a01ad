package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

type reconcileResponse struct {
	PostsFixed    int `json:"posts_fixed"`
	CommentsFixed int `json:"comments_fixed"`
}

// Reconcile handles POST /admin/reconcile
func Reconcile(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		posts, comments, err := svc.Reconcile(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, reconcileResponse{PostsFixed: posts, CommentsFixed: comments})
	}
}

// DeletePost handles DELETE /admin/posts/{post_id}
func DeletePost(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.DeletePost(r.Context(), strings.TrimSpace(chi.URLParam(r, "post_id")))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}
