package engagement

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/services/engagement/internal/domain"
)

// UserStats builds the dashboard payload for userID. Every count is an
// independent query run in parallel; a failed count reads as zero.
func (s *Service) UserStats(ctx context.Context, userID string) (domain.Stats, error) {
	if err := requireUser(userID); err != nil {
		return domain.Stats{}, err
	}
	if s.cache != nil {
		if st, ok := s.cache.Get(ctx, userID); ok {
			return st, nil
		}
	}

	var (
		st    domain.Stats
		first time.Time
	)
	count := func(name string, fn func(context.Context, string) (int, error), dst *int) func() error {
		return func() error {
			n, err := fn(ctx, userID)
			if err != nil {
				s.log.Warn("stats: count failed", zap.String("count", name), zap.String("user_id", userID), zap.Error(err))
				n = 0
			}
			*dst = n
			return nil
		}
	}

	var g errgroup.Group
	g.Go(count("likes", s.store.CountLikes, &st.LikesGiven))
	g.Go(count("comments", s.store.CountComments, &st.CommentsPosted))
	g.Go(count("saves", s.store.CountSaves, &st.PostsSaved))
	g.Go(count("post_likes", s.store.CountPostLikes, &st.PostsLiked))
	g.Go(func() error {
		if created, ok := auth.AccountCreatedAtFromContext(ctx); ok {
			first = created
			return nil
		}
		t, ok, err := s.store.FirstEngagementAt(ctx, userID)
		if err != nil {
			s.log.Warn("stats: first engagement failed", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		if ok {
			first = t
		}
		return nil
	})
	g.Go(func() error {
		activity, _ := s.RecentActivity(ctx, userID, DefaultFeedLimit)
		st.RecentActivity = activity
		return nil
	})
	_ = g.Wait()

	if st.RecentActivity == nil {
		st.RecentActivity = []domain.Activity{}
	}
	st.AccountAgeDays = AccountAgeDays(first, s.now())
	total := st.LikesGiven + st.CommentsPosted + st.PostsSaved
	st.AvgEngagementsPerDay = math.Round(float64(total)/float64(st.AccountAgeDays)*100) / 100

	if s.cache != nil {
		s.cache.Set(ctx, userID, st)
	}
	return st, nil
}

// AccountAgeDays returns whole days since created, rounded up, never below 1.
// A zero created time counts as a same-day account.
func AccountAgeDays(created, now time.Time) int {
	if created.IsZero() || !now.After(created) {
		return 1
	}
	days := int(math.Ceil(now.Sub(created).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
