package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

func seedPosts(t *testing.T, svc *Service, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := svc.UpsertPost(context.Background(), domain.Post{ID: id, Slug: id + "-slug", Title: "Title " + id, Description: "About " + id}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
}

func TestRecentActivity_MergesAndOrders(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPosts(t, env.svc, "p1", "p2", "p3")

	other, _ := env.svc.CreateComment(ctx, "u2", "p3", "someone else's take", nil)

	env.clock.Advance(time.Minute)
	_, _ = env.svc.ToggleLike(ctx, "u1", domain.PostTarget("p1"), ActionLike)
	env.clock.Advance(time.Minute)
	_, _ = env.svc.CreateComment(ctx, "u1", "p2", "great read", nil)
	env.clock.Advance(time.Minute)
	_, _ = env.svc.ToggleSave(ctx, "u1", "p3", ActionSave)
	env.clock.Advance(time.Minute)
	_, _ = env.svc.ToggleLike(ctx, "u1", domain.CommentTarget(other.ID), ActionLike)

	feed, err := env.svc.RecentActivity(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 4 {
		t.Fatalf("expected 4 items, got %d", len(feed))
	}

	wantTypes := []string{domain.ActivityLikeComment, domain.ActivitySave, domain.ActivityComment, domain.ActivityLike}
	for i, want := range wantTypes {
		if feed[i].Type != want {
			t.Fatalf("item %d: expected %s, got %s", i, want, feed[i].Type)
		}
		if i > 0 && !feed[i-1].Timestamp.After(feed[i].Timestamp) {
			t.Fatalf("items %d and %d are not strictly descending", i-1, i)
		}
	}
	if feed[0].Slug != "p3-slug" || feed[0].Preview != "someone else's take" {
		t.Fatalf("comment like should resolve to the comment's post: %+v", feed[0])
	}
	if feed[2].Title != "Title p2" || feed[2].Preview != "great read" {
		t.Fatalf("unexpected comment activity: %+v", feed[2])
	}
}

func TestRecentActivity_LimitAndDangling(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPosts(t, env.svc, "p1", "p2", "p3")

	for _, p := range []string{"p1", "p2", "p3"} {
		env.clock.Advance(time.Minute)
		_, _ = env.svc.ToggleLike(ctx, "u1", domain.PostTarget(p), ActionLike)
	}
	// Projection row vanishes while the like survives.
	_ = env.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.DeletePost(ctx, "p2")
		return err
	})

	feed, _ := env.svc.RecentActivity(ctx, "u1", 10)
	if len(feed) != 2 {
		t.Fatalf("expected dangling like to be dropped, got %d items", len(feed))
	}

	feed, _ = env.svc.RecentActivity(ctx, "u1", 1)
	if len(feed) != 1 || feed[0].Slug != "p3-slug" {
		t.Fatalf("expected newest only, got %+v", feed)
	}
}

func TestRecentActivity_PostsWithoutMetadata(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, _ = env.svc.ToggleLike(ctx, "u1", domain.PostTarget("p1"), ActionLike)
	env.clock.Advance(time.Minute)
	_, _ = env.svc.ToggleLike(ctx, "u1", domain.PostTarget("p2"), ActionLike)
	env.clock.Advance(time.Minute)
	_, _ = env.svc.CreateComment(ctx, "u1", "p3", "first!", nil)
	env.clock.Advance(time.Minute)
	if _, err := env.svc.ToggleSave(ctx, "u1", "p4", ActionSave); err != nil {
		t.Fatalf("save: %v", err)
	}

	feed, err := env.svc.RecentActivity(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 4 {
		t.Fatalf("expected 4 items, got %d: %+v", len(feed), feed)
	}
	wantTypes := []string{domain.ActivitySave, domain.ActivityComment, domain.ActivityLike, domain.ActivityLike}
	for i, want := range wantTypes {
		if feed[i].Type != want {
			t.Fatalf("item %d: expected %s, got %s", i, want, feed[i].Type)
		}
	}

	st, err := env.svc.UserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.PostsSaved != 1 || len(st.RecentActivity) != 4 {
		t.Fatalf("stats disagree with feed: saved=%d recent=%d", st.PostsSaved, len(st.RecentActivity))
	}
}

func TestMergeActivity_DropsDeletedCommentTarget(t *testing.T) {
	cid := "gone"
	likes := []domain.LikeWithTarget{{
		Like: domain.Like{ID: "l1", CommentID: &cid, CreatedAt: time.Now()},
		Post: &domain.Post{ID: "p1"},
	}}
	if got := MergeActivity(likes, nil, nil, 10); len(got) != 0 {
		t.Fatalf("expected like on a deleted comment to be dropped, got %+v", got)
	}
}

func TestClampFeedLimit(t *testing.T) {
	cases := map[int]int{0: DefaultFeedLimit, -3: DefaultFeedLimit, 7: 7, 500: MaxFeedLimit}
	for in, want := range cases {
		if got := ClampFeedLimit(in); got != want {
			t.Fatalf("ClampFeedLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPreview_TruncatesLongContent(t *testing.T) {
	long := make([]rune, previewLength+20)
	for i := range long {
		long[i] = 'ж'
	}
	got := []rune(preview(string(long)))
	if len(got) != previewLength+3 {
		t.Fatalf("expected %d runes, got %d", previewLength+3, len(got))
	}
}

// flakyStore fails selected reads.
type flakyStore struct {
	store.Store
	failComments bool
	failLikes    bool
}

var errFlaky = errors.New("connection reset")

func (f *flakyStore) CountComments(ctx context.Context, userID string) (int, error) {
	if f.failComments {
		return 0, errFlaky
	}
	return f.Store.CountComments(ctx, userID)
}

func (f *flakyStore) RecentLikes(ctx context.Context, userID string, limit int) ([]domain.LikeWithTarget, error) {
	if f.failLikes {
		return nil, errFlaky
	}
	return f.Store.RecentLikes(ctx, userID, limit)
}

func TestUserStats_Counts(t *testing.T) {
	env := newTestEnv()
	seedPosts(t, env.svc, "p1", "p2")

	created := env.clock.Now().Add(-10 * 24 * time.Hour)
	ctx := auth.WithAccountCreatedAt(context.Background(), created)

	c, _ := env.svc.CreateComment(ctx, "u2", "p1", "hi", nil)
	_, _ = env.svc.ToggleLike(ctx, "u1", domain.PostTarget("p1"), ActionLike)
	_, _ = env.svc.ToggleLike(ctx, "u1", domain.CommentTarget(c.ID), ActionLike)
	_, _ = env.svc.CreateComment(ctx, "u1", "p2", "mine", nil)
	_, _ = env.svc.ToggleSave(ctx, "u1", "p2", ActionSave)

	st, err := env.svc.UserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.LikesGiven != 2 || st.PostsLiked != 1 || st.CommentsPosted != 1 || st.PostsSaved != 1 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.AccountAgeDays != 10 {
		t.Fatalf("expected 10 days, got %d", st.AccountAgeDays)
	}
	if st.AvgEngagementsPerDay != 0.4 {
		t.Fatalf("expected 0.4 per day, got %v", st.AvgEngagementsPerDay)
	}
	if len(st.RecentActivity) != 4 {
		t.Fatalf("expected 4 recent activities, got %d", len(st.RecentActivity))
	}
}

func TestUserStats_SameDayAccountDividesByOne(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, _ = env.svc.ToggleSave(ctx, "u1", "p1", ActionSave)
	_, _ = env.svc.ToggleSave(ctx, "u1", "p2", ActionSave)

	st, err := env.svc.UserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.AccountAgeDays != 1 || st.AvgEngagementsPerDay != 2 {
		t.Fatalf("expected divisor 1 and avg 2, got %+v", st)
	}

	empty, err := env.svc.UserStats(ctx, "nobody")
	if err != nil {
		t.Fatalf("stats for new user: %v", err)
	}
	if empty.AvgEngagementsPerDay != 0 || empty.RecentActivity == nil {
		t.Fatalf("unexpected empty stats: %+v", empty)
	}
}

func TestUserStats_PartialFailureReadsAsZero(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedPosts(t, env.svc, "p1")

	_, _ = env.svc.ToggleLike(ctx, "u1", domain.PostTarget("p1"), ActionLike)
	_, _ = env.svc.CreateComment(ctx, "u1", "p1", "hello", nil)

	flaky := New(Deps{Store: &flakyStore{Store: env.store, failComments: true, failLikes: true}, Now: env.clock.Now})
	st, err := flaky.UserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats must not fail on a broken sub-query: %v", err)
	}
	if st.CommentsPosted != 0 {
		t.Fatalf("failed count should be 0, got %d", st.CommentsPosted)
	}
	if st.LikesGiven != 1 {
		t.Fatalf("healthy count should survive, got %d", st.LikesGiven)
	}
	if len(st.RecentActivity) != 1 || st.RecentActivity[0].Type != domain.ActivityComment {
		t.Fatalf("expected only the comment source in the feed, got %+v", st.RecentActivity)
	}
}

type memoryStatsCache struct {
	mu          sync.Mutex
	entries     map[string]domain.Stats
	invalidated []string
}

func (c *memoryStatsCache) Get(_ context.Context, userID string) (domain.Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries[userID]
	return st, ok
}

func (c *memoryStatsCache) Set(_ context.Context, userID string, st domain.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = st
}

func (c *memoryStatsCache) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
}

func TestUserStats_CachedUntilMutation(t *testing.T) {
	st := store.NewInMemoryStore()
	cache := &memoryStatsCache{entries: map[string]domain.Stats{}}
	svc := New(Deps{Store: st, Cache: cache})
	ctx := context.Background()

	first, _ := svc.UserStats(ctx, "u1")
	if first.PostsSaved != 0 {
		t.Fatalf("expected 0 saves, got %d", first.PostsSaved)
	}

	// A write behind the service's back is not seen while cached.
	_ = st.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertSavedPost(ctx, domain.SavedPost{UserID: "u1", PostID: "p9"})
		return err
	})
	cached, _ := svc.UserStats(ctx, "u1")
	if cached.PostsSaved != 0 {
		t.Fatalf("expected cached value, got %d", cached.PostsSaved)
	}

	_, _ = svc.ToggleSave(ctx, "u1", "p1", ActionSave)
	fresh, _ := svc.UserStats(ctx, "u1")
	if fresh.PostsSaved != 2 {
		t.Fatalf("expected fresh stats after mutation, got %d", fresh.PostsSaved)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "u1" {
		t.Fatalf("expected one invalidation for u1, got %v", cache.invalidated)
	}
}

func TestCascades_InvalidateEveryTouchedUser(t *testing.T) {
	st := store.NewInMemoryStore()
	cache := &memoryStatsCache{entries: map[string]domain.Stats{}}
	svc := New(Deps{Store: st, Cache: cache})
	ctx := context.Background()

	root, _ := svc.CreateComment(ctx, "author", "p1", "root", nil)
	reply, _ := svc.CreateComment(ctx, "replier", "p1", "reply", &root.ID)
	_, _ = svc.ToggleLike(ctx, "fan", domain.CommentTarget(reply.ID), ActionLike)
	_, _ = svc.ToggleSave(ctx, "saver", "p1", ActionSave)
	_, _ = svc.ToggleLike(ctx, "reader", domain.PostTarget("p1"), ActionLike)

	for _, uid := range []string{"author", "replier", "fan", "saver", "reader"} {
		_, _ = svc.UserStats(ctx, uid)
	}
	if got, _ := cache.Get(ctx, "fan"); got.LikesGiven != 1 {
		t.Fatalf("expected cached like for fan, got %+v", got)
	}

	cache.invalidated = nil
	if _, err := svc.DeleteComment(ctx, "author", root.ID); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	for _, uid := range []string{"author", "replier", "fan"} {
		if _, ok := cache.Get(ctx, uid); ok {
			t.Fatalf("stats of %s still cached after comment cascade", uid)
		}
	}
	if _, ok := cache.Get(ctx, "saver"); !ok {
		t.Fatal("comment cascade should not touch the saver")
	}
	if st, _ := svc.UserStats(ctx, "fan"); st.LikesGiven != 0 {
		t.Fatalf("expected fan's like gone, got %d", st.LikesGiven)
	}

	if _, err := svc.DeletePost(ctx, "p1"); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	for _, uid := range []string{"saver", "reader"} {
		if _, ok := cache.Get(ctx, uid); ok {
			t.Fatalf("stats of %s still cached after post cascade", uid)
		}
	}
}

func TestAccountAgeDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		created time.Time
		want    int
	}{
		{time.Time{}, 1},
		{now, 1},
		{now.Add(time.Hour), 1},
		{now.Add(-3 * time.Hour), 1},
		{now.Add(-25 * time.Hour), 2},
		{now.Add(-7 * 24 * time.Hour), 7},
	}
	for _, tc := range cases {
		if got := AccountAgeDays(tc.created, now); got != tc.want {
			t.Fatalf("AccountAgeDays(%v) = %d, want %d", tc.created, got, tc.want)
		}
	}
}
