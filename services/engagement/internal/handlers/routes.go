package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

// Deps is what the HTTP surface needs. Limiter is optional.
type Deps struct {
	Service  *engagement.Service
	Verifier auth.JWTVerifier
	Limiter  *RateLimiter
	Log      *zap.Logger
}

// Mount registers every engagement route on r.
func Mount(r chi.Router, d Deps) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := d.Service

	// Public reads
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalUser(d.Verifier))
		r.Get("/comments", GetThread(svc, log))
		r.Get("/comments/{comment_id}/replies", GetReplies(svc, log))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))

		r.Get("/likes", GetLikeStatus(svc, log))
		r.Get("/saved-posts", ListSavedPosts(svc, log))
		r.Get("/user-stats", GetUserStats(svc, log))
		r.Get("/activity", GetActivity(svc, log))
		r.Get("/activity/session", GetSessionActivity(svc, log))

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.Post("/likes", ToggleLike(svc, log))
			r.Post("/saved-posts", ToggleSave(svc, log))
			r.Post("/comments", CreateComment(svc, log))
			r.Put("/comments/{comment_id}", UpdateComment(svc, log))
			r.Delete("/comments/{comment_id}", DeleteComment(svc, log))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/admin/reconcile", Reconcile(svc, log))
			r.Delete("/admin/posts/{post_id}", DeletePost(svc, log))
		})
	})
}
