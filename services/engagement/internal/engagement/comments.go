package engagement

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/example/blog-platform/internal/platform/analytics"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

// normalizeContent trims content and checks its length in characters.
func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	switch {
	case n == 0:
		return "", domain.Errorf(domain.ErrValidation, "content must not be empty")
	case n > MaxCommentLength:
		return "", domain.Errorf(domain.ErrValidation, "content must be at most %d characters", MaxCommentLength)
	}
	return content, nil
}

// ownedComment loads a comment and checks that userID wrote it.
func ownedComment(ctx context.Context, tx store.Tx, commentID, userID string) (domain.Comment, error) {
	c, err := tx.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Comment{}, domain.Errorf(domain.ErrNotFound, "comment not found")
	}
	if err != nil {
		return domain.Comment{}, err
	}
	if c.UserID != userID {
		return domain.Comment{}, domain.Errorf(domain.ErrForbidden, "not the comment author")
	}
	return c, nil
}

// CreateComment adds a comment, or a reply when parentID is set, and bumps
// the post's comment counter.
func (s *Service) CreateComment(ctx context.Context, userID, postID, content string, parentID *string) (domain.Comment, error) {
	if err := requireUser(userID); err != nil {
		return domain.Comment{}, err
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return domain.Comment{}, domain.Errorf(domain.ErrValidation, "post_id is required")
	}
	content, err := normalizeContent(content)
	if err != nil {
		return domain.Comment{}, err
	}
	if parentID != nil && strings.TrimSpace(*parentID) == "" {
		parentID = nil
	}

	var created domain.Comment
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if parentID != nil {
			parent, err := tx.GetComment(ctx, *parentID)
			if errors.Is(err, store.ErrNotFound) {
				return domain.Errorf(domain.ErrNotFound, "parent comment not found")
			}
			if err != nil {
				return err
			}
			if parent.PostID != postID {
				return domain.Errorf(domain.ErrValidation, "parent comment belongs to a different post")
			}
		}

		c, err := tx.InsertComment(ctx, domain.Comment{
			PostID:    postID,
			UserID:    userID,
			ParentID:  parentID,
			Content:   content,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		created = c
		return OnCommentAdded(ctx, tx, postID)
	})
	if err != nil {
		return domain.Comment{}, s.fail("create comment", err)
	}

	s.afterMutation(ctx, userID, analytics.SubjectCommentCreated, map[string]any{
		"post_id":    created.PostID,
		"comment_id": created.ID,
		"parent_id":  created.ParentID,
	}, SessionEntry{Action: "comment", PostID: created.PostID, CommentID: created.ID})
	return created, nil
}

// UpdateComment replaces the content of a comment. Only the author may edit,
// and only within EditWindow of creation.
func (s *Service) UpdateComment(ctx context.Context, userID, commentID, content string) (domain.Comment, error) {
	if err := requireUser(userID); err != nil {
		return domain.Comment{}, err
	}

	var updated domain.Comment
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := ownedComment(ctx, tx, commentID, userID)
		if err != nil {
			return err
		}
		now := s.now()
		if now.Sub(c.CreatedAt) > EditWindow {
			return domain.Errorf(domain.ErrForbidden, "edit window expired")
		}
		normalized, err := normalizeContent(content)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateCommentContent(ctx, commentID, normalized, now)
		return err
	})
	if err != nil {
		return domain.Comment{}, s.fail("update comment", err)
	}

	s.afterMutation(ctx, userID, analytics.SubjectCommentUpdated, map[string]any{
		"post_id":    updated.PostID,
		"comment_id": updated.ID,
	}, SessionEntry{Action: "edit_comment", PostID: updated.PostID, CommentID: updated.ID})
	return updated, nil
}

// DeleteComment removes a comment with every reply below it and every like
// on any of them, in one transaction. It returns how many comments were
// removed.
func (s *Service) DeleteComment(ctx context.Context, userID, commentID string) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}

	var (
		postID  string
		removed int
		touched []string
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := ownedComment(ctx, tx, commentID, userID)
		if err != nil {
			return err
		}
		postID = c.PostID

		all, err := tx.ListCommentsByPost(ctx, c.PostID)
		if err != nil {
			return err
		}
		ids := Subtree(all, c.ID)
		if touched, err = affectedUsers(ctx, tx, "", all, ids); err != nil {
			return err
		}

		if _, err := tx.DeleteLikesByComments(ctx, ids); err != nil {
			return err
		}
		removed, err = tx.DeleteComments(ctx, ids)
		if err != nil {
			return err
		}
		return OnCommentsRemoved(ctx, tx, c.PostID, removed)
	})
	if err != nil {
		return 0, s.fail("delete comment", err)
	}
	s.invalidateStats(ctx, touched)

	s.afterMutation(ctx, userID, analytics.SubjectCommentDeleted, map[string]any{
		"post_id":    postID,
		"comment_id": commentID,
		"removed":    removed,
	}, SessionEntry{Action: "delete_comment", PostID: postID, CommentID: commentID})
	return removed, nil
}

// Thread returns the comments of a post as a reply tree, oldest first at
// every level.
func (s *Service) Thread(ctx context.Context, postID string) ([]*domain.CommentNode, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "post_id is required")
	}
	var comments []domain.Comment
	err := s.store.Read(ctx, func(tx store.Tx) error {
		var err error
		comments, err = tx.ListCommentsByPost(ctx, postID)
		return err
	})
	if err != nil {
		return nil, s.fail("list comments", err)
	}
	return BuildThread(comments), nil
}

// Replies returns the direct replies of a comment, oldest first.
func (s *Service) Replies(ctx context.Context, commentID string) ([]domain.Comment, error) {
	var replies []domain.Comment
	err := s.store.Read(ctx, func(tx store.Tx) error {
		if _, err := tx.GetComment(ctx, commentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Errorf(domain.ErrNotFound, "comment not found")
			}
			return err
		}
		var err error
		replies, err = tx.ListRepliesByParent(ctx, commentID)
		return err
	})
	if err != nil {
		return nil, s.fail("list replies", err)
	}
	if replies == nil {
		replies = []domain.Comment{}
	}
	return replies, nil
}
