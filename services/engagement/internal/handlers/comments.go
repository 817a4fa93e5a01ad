package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

type createCommentRequest struct {
	PostID   string  `json:"post_id"`
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id,omitempty"`
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

type commentResponse struct {
	Comment domain.Comment `json:"comment"`
}

type threadResponse struct {
	Comments []*domain.CommentNode `json:"comments"`
}

type repliesResponse struct {
	Comments []domain.Comment `json:"comments"`
}

type deleteCommentResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// GetThread handles GET /comments?post_id=
func GetThread(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := svc.Thread(r.Context(), r.URL.Query().Get("post_id"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, threadResponse{Comments: nodes})
	}
}

// GetReplies handles GET /comments/{comment_id}/replies
func GetReplies(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		replies, err := svc.Replies(r.Context(), strings.TrimSpace(chi.URLParam(r, "comment_id")))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, repliesResponse{Comments: replies})
	}
}

// CreateComment handles POST /comments
func CreateComment(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[createCommentRequest](w, r)
		if !ok {
			return
		}
		c, err := svc.CreateComment(r.Context(), currentUser(r), req.PostID, req.Content, req.ParentID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, commentResponse{Comment: c})
	}
}

// UpdateComment handles PUT /comments/{comment_id}
func UpdateComment(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[updateCommentRequest](w, r)
		if !ok {
			return
		}
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		c, err := svc.UpdateComment(r.Context(), currentUser(r), commentID, req.Content)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, commentResponse{Comment: c})
	}
}

// DeleteComment handles DELETE /comments/{comment_id}
func DeleteComment(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		removed, err := svc.DeleteComment(r.Context(), currentUser(r), commentID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, deleteCommentResponse{Message: "comment deleted", Removed: removed})
	}
}
