package engagement

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

// PostCascade counts what a post deletion removed.
type PostCascade struct {
	PostLikes    int `json:"post_likes"`
	Comments     int `json:"comments"`
	CommentLikes int `json:"comment_likes"`
	SavedPosts   int `json:"saved_posts"`
}

// UpsertPost records post metadata published by the content service.
func (s *Service) UpsertPost(ctx context.Context, p domain.Post) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return domain.Errorf(domain.ErrValidation, "post id is required")
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertPost(ctx, p)
	})
	if err != nil {
		return s.fail("upsert post", err)
	}
	return nil
}

// DeletePost removes everything that exists only in reference to a post:
// its likes, its comments and their likes, saved rows, and the projection.
func (s *Service) DeletePost(ctx context.Context, postID string) (PostCascade, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return PostCascade{}, domain.Errorf(domain.ErrValidation, "post id is required")
	}

	var (
		res     PostCascade
		touched []string
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		comments, err := tx.ListCommentsByPost(ctx, postID)
		if err != nil {
			return err
		}
		ids := make([]string, len(comments))
		for i, c := range comments {
			ids[i] = c.ID
		}
		if touched, err = affectedUsers(ctx, tx, postID, comments, ids); err != nil {
			return err
		}

		if res.PostLikes, err = tx.DeleteLikesByPost(ctx, postID); err != nil {
			return err
		}
		if res.CommentLikes, err = tx.DeleteLikesByComments(ctx, ids); err != nil {
			return err
		}
		if res.Comments, err = tx.DeleteComments(ctx, ids); err != nil {
			return err
		}
		if res.SavedPosts, err = tx.DeleteSavedPostsByPost(ctx, postID); err != nil {
			return err
		}
		_, err = tx.DeletePost(ctx, postID)
		return err
	})
	if err != nil {
		return PostCascade{}, s.fail("delete post", err)
	}
	s.invalidateStats(ctx, touched)

	s.log.Info("engagement: post cascade",
		zap.String("post_id", postID),
		zap.Int("post_likes", res.PostLikes),
		zap.Int("comments", res.Comments),
		zap.Int("comment_likes", res.CommentLikes),
		zap.Int("saved_posts", res.SavedPosts),
		zap.Int("users_touched", len(touched)),
	)
	return res, nil
}

// Reconcile recomputes every denormalized counter from source rows.
func (s *Service) Reconcile(ctx context.Context) (posts, comments int, err error) {
	if posts, err = s.store.RecountPosts(ctx); err != nil {
		return 0, 0, s.fail("recount posts", err)
	}
	if comments, err = s.store.RecountComments(ctx); err != nil {
		return posts, 0, s.fail("recount comments", err)
	}
	return posts, comments, nil
}
