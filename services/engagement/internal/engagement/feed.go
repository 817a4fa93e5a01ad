package engagement

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/blog-platform/services/engagement/internal/domain"
)

// ClampFeedLimit applies the default and maximum feed size.
func ClampFeedLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultFeedLimit
	case limit > MaxFeedLimit:
		return MaxFeedLimit
	}
	return limit
}

// RecentActivity merges the user's latest likes, comments and saves into one
// feed, newest first. The three sources are read independently and in
// parallel; a failed source contributes nothing.
func (s *Service) RecentActivity(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	limit = ClampFeedLimit(limit)

	var (
		likes    []domain.LikeWithTarget
		comments []domain.CommentWithPost
		saves    []domain.SavedPostWithPost
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		if likes, err = s.store.RecentLikes(ctx, userID, limit); err != nil {
			s.log.Warn("feed: likes source failed", zap.String("user_id", userID), zap.Error(err))
			likes = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if comments, err = s.store.RecentComments(ctx, userID, limit); err != nil {
			s.log.Warn("feed: comments source failed", zap.String("user_id", userID), zap.Error(err))
			comments = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if saves, err = s.store.RecentSaves(ctx, userID, limit); err != nil {
			s.log.Warn("feed: saves source failed", zap.String("user_id", userID), zap.Error(err))
			saves = nil
		}
		return nil
	})
	_ = g.Wait()

	return MergeActivity(likes, comments, saves, limit), nil
}

// MergeActivity normalizes the three sources, drops rows whose target no
// longer resolves, sorts by timestamp descending and truncates to limit.
func MergeActivity(likes []domain.LikeWithTarget, comments []domain.CommentWithPost, saves []domain.SavedPostWithPost, limit int) []domain.Activity {
	out := make([]domain.Activity, 0, len(likes)+len(comments)+len(saves))

	for _, l := range likes {
		if l.Post == nil {
			continue
		}
		if l.Like.CommentID != nil {
			if l.Comment == nil {
				continue
			}
			a := postActivity(domain.ActivityLikeComment, l.Like.CreatedAt, l.Post)
			a.Preview = preview(l.Comment.Content)
			out = append(out, a)
			continue
		}
		out = append(out, postActivity(domain.ActivityLike, l.Like.CreatedAt, l.Post))
	}
	for _, c := range comments {
		if c.Post == nil {
			continue
		}
		a := postActivity(domain.ActivityComment, c.Comment.CreatedAt, c.Post)
		a.Preview = preview(c.Comment.Content)
		out = append(out, a)
	}
	for _, sp := range saves {
		if sp.Post == nil {
			continue
		}
		out = append(out, postActivity(domain.ActivitySave, sp.SavedPost.CreatedAt, sp.Post))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func postActivity(typ string, ts time.Time, p *domain.Post) domain.Activity {
	return domain.Activity{
		Type:        typ,
		Timestamp:   ts,
		Title:       p.Title,
		Slug:        p.Slug,
		Description: p.Description,
	}
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return string(r[:previewLength]) + "..."
}
