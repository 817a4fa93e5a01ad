package engagement

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/example/blog-platform/internal/platform/analytics"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

// Action is the desired direction of a toggle request.
type Action string

const (
	ActionToggle Action = "toggle"
	ActionLike   Action = "like"
	ActionUnlike Action = "unlike"
	ActionSave   Action = "save"
	ActionUnsave Action = "unsave"
)

// ParseAction normalizes a client supplied action. An empty action means toggle.
func ParseAction(raw string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if a == "" {
		return ActionToggle
	}
	return a
}

// desiredPresence resolves the terminal state for an action given whether a
// row exists now.
func desiredPresence(a Action, present bool, on, off Action) (bool, error) {
	switch a {
	case ActionToggle:
		return !present, nil
	case on:
		return true, nil
	case off:
		return false, nil
	}
	return false, domain.Errorf(domain.ErrValidation, "action must be one of %s, %s, toggle", on, off)
}

// ToggleLike converges the like of userID on target to the requested state
// and reports whether the target is liked afterwards.
//
// A concurrent request that inserts the same like first makes our insert a
// no-op: the unique index decides and the counter only moves for the row
// that actually landed.
func (s *Service) ToggleLike(ctx context.Context, userID string, target domain.Target, action Action) (bool, error) {
	if err := requireUser(userID); err != nil {
		return false, err
	}
	if err := target.Validate(); err != nil {
		return false, err
	}
	if _, err := desiredPresence(action, false, ActionLike, ActionUnlike); err != nil {
		return false, err
	}

	var liked, changed bool
	var postID string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindLike(ctx, userID, target)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		present := err == nil

		want, _ := desiredPresence(action, present, ActionLike, ActionUnlike)
		liked = want

		postID = target.PostID
		if target.IsComment() {
			c, err := tx.GetComment(ctx, target.CommentID)
			if errors.Is(err, store.ErrNotFound) {
				if !want {
					return nil
				}
				return domain.Errorf(domain.ErrNotFound, "comment not found")
			}
			if err != nil {
				return err
			}
			postID = c.PostID
		}

		switch {
		case want && !present:
			_, err := tx.InsertLike(ctx, newLike(userID, target, s.now()))
			if errors.Is(err, store.ErrDuplicate) {
				return nil
			}
			if err != nil {
				return err
			}
			changed = true
			return OnLikeAdded(ctx, tx, target)
		case !want && present:
			removed, err := tx.DeleteLike(ctx, existing.ID)
			if err != nil || !removed {
				return err
			}
			changed = true
			return OnLikeRemoved(ctx, tx, target)
		}
		return nil
	})
	if err != nil {
		return false, s.fail("toggle like", err)
	}

	if changed {
		subject, verb := analytics.SubjectLikeAdded, "like"
		if !liked {
			subject, verb = analytics.SubjectLikeRemoved, "unlike"
		}
		s.afterMutation(ctx, userID, subject, map[string]any{
			"post_id":    postID,
			"comment_id": target.CommentID,
		}, SessionEntry{Action: verb, PostID: postID, CommentID: target.CommentID})
	}
	return liked, nil
}

// ToggleSave is ToggleLike for saved posts.
func (s *Service) ToggleSave(ctx context.Context, userID, postID string, action Action) (bool, error) {
	if err := requireUser(userID); err != nil {
		return false, err
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return false, domain.Errorf(domain.ErrValidation, "post_id is required")
	}
	if _, err := desiredPresence(action, false, ActionSave, ActionUnsave); err != nil {
		return false, err
	}

	var saved, changed bool
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindSavedPost(ctx, userID, postID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		present := err == nil

		want, _ := desiredPresence(action, present, ActionSave, ActionUnsave)
		saved = want

		switch {
		case want && !present:
			_, err := tx.InsertSavedPost(ctx, domain.SavedPost{UserID: userID, PostID: postID, CreatedAt: s.now()})
			if errors.Is(err, store.ErrDuplicate) {
				return nil
			}
			if err != nil {
				return err
			}
			changed = true
			// Likes and comments create the projection row through their
			// counter deltas; saves have no counter, so create it here.
			return tx.EnsurePost(ctx, postID)
		case !want && present:
			removed, err := tx.DeleteSavedPost(ctx, existing.ID)
			changed = removed
			return err
		}
		return nil
	})
	if err != nil {
		return false, s.fail("toggle save", err)
	}

	if changed {
		subject, verb := analytics.SubjectPostSaved, "save"
		if !saved {
			subject, verb = analytics.SubjectPostUnsaved, "unsave"
		}
		s.afterMutation(ctx, userID, subject, map[string]any{"post_id": postID},
			SessionEntry{Action: verb, PostID: postID})
	}
	return saved, nil
}

func newLike(userID string, t domain.Target, at time.Time) domain.Like {
	l := domain.Like{UserID: userID, CreatedAt: at}
	if t.IsComment() {
		id := t.CommentID
		l.CommentID = &id
	} else {
		id := t.PostID
		l.PostID = &id
	}
	return l
}

// LikeStatus reports whether userID likes target and the target's
// denormalized like count.
func (s *Service) LikeStatus(ctx context.Context, userID string, target domain.Target) (liked bool, count int, err error) {
	if err := requireUser(userID); err != nil {
		return false, 0, err
	}
	if err := target.Validate(); err != nil {
		return false, 0, err
	}

	err = s.store.Read(ctx, func(tx store.Tx) error {
		_, err := tx.FindLike(ctx, userID, target)
		switch {
		case err == nil:
			liked = true
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if target.IsComment() {
			c, err := tx.GetComment(ctx, target.CommentID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			count = c.LikeCount
			return err
		}
		p, err := tx.GetPost(ctx, target.PostID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		count = p.LikeCount
		return err
	})
	if err != nil {
		return false, 0, s.fail("like status", err)
	}
	return liked, count, nil
}

// maxOffset caps row offsets; no user has that many saved posts.
const maxOffset = math.MaxInt32

// pageOffset converts a 1-based page into a row offset, saturating at
// maxOffset instead of overflowing.
func pageOffset(page, limit int) int {
	if page <= 1 || limit <= 0 {
		return 0
	}
	if page-1 > maxOffset/limit {
		return maxOffset
	}
	return (page - 1) * limit
}

// ListSavedPosts returns one page of the user's saved posts, newest first.
// page is 1-based.
func (s *Service) ListSavedPosts(ctx context.Context, userID string, page, limit int) ([]domain.SavedPostWithPost, int, error) {
	if err := requireUser(userID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	items, total, err := s.store.ListSavedPosts(ctx, userID, pageOffset(page, limit), limit)
	if err != nil {
		return nil, 0, s.fail("list saved posts", err)
	}
	if items == nil {
		items = []domain.SavedPostWithPost{}
	}
	return items, total, nil
}
