package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

func newService() (*engagement.Service, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return engagement.New(engagement.Deps{Store: st}), st
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestPostsConsumer_UpsertThenDelete(t *testing.T) {
	svc, st := newService()
	c := NewPostsConsumer(svc, nil)
	ctx := context.Background()

	err := c.Handle(ctx, SubjectPostUpserted, mustJSON(t, PostUpsertedEvent{
		EventID: "e1", PostID: "p1", Slug: "hello-world", Title: "Hello",
	}))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cm, _ := svc.CreateComment(ctx, "u1", "p1", "first", nil)
	_, _ = svc.ToggleLike(ctx, "u2", domain.CommentTarget(cm.ID), engagement.ActionLike)
	_, _ = svc.ToggleSave(ctx, "u2", "p1", engagement.ActionSave)

	var p domain.Post
	_ = st.Read(ctx, func(tx store.Tx) error {
		p, err = tx.GetPost(ctx, "p1")
		return err
	})
	if p.Slug != "hello-world" || p.CommentCount != 1 {
		t.Fatalf("unexpected projection: %+v", p)
	}

	deleted := mustJSON(t, PostDeletedEvent{EventID: "e2", PostID: "p1"})
	if err := c.Handle(ctx, SubjectPostDeleted, deleted); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := st.CountLikes(ctx, "u2"); n != 0 {
		t.Fatalf("expected likes to be cascaded, got %d", n)
	}
	if n, _ := st.CountSaves(ctx, "u2"); n != 0 {
		t.Fatalf("expected saves to be cascaded, got %d", n)
	}

	// Redelivery is harmless.
	if err := c.Handle(ctx, SubjectPostDeleted, deleted); err != nil {
		t.Fatalf("redelivered delete: %v", err)
	}
}

func TestPostsConsumer_Malformed(t *testing.T) {
	svc, _ := newService()
	c := NewPostsConsumer(svc, nil)
	ctx := context.Background()

	cases := []struct {
		subject string
		data    []byte
	}{
		{SubjectPostUpserted, []byte("{not json")},
		{SubjectPostDeleted, []byte(`{"event_id":"e1"}`)},
		{"content.posts.archived", []byte(`{}`)},
	}
	for _, tc := range cases {
		if err := c.Handle(ctx, tc.subject, tc.data); !IsMalformed(err) {
			t.Fatalf("%s %s: expected malformed error, got %v", tc.subject, tc.data, err)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("WORKER_TEST_INT", "42")
	if got := envInt("WORKER_TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("WORKER_TEST_INT", "nope")
	if got := envInt("WORKER_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

type countingRecounter struct {
	calls atomic.Int32
	err   error
}

func (c *countingRecounter) Reconcile(context.Context) (int, int, error) {
	c.calls.Add(1)
	return 1, 0, c.err
}

func TestReconciler_RunOnce(t *testing.T) {
	svc, st := newService()
	ctx := context.Background()

	_, _ = svc.ToggleLike(ctx, "u1", domain.PostTarget("p1"), engagement.ActionLike)
	_ = st.InTx(ctx, func(tx store.Tx) error { return tx.AddPostLikes(ctx, "p1", 10) })

	r := NewReconciler(svc, time.Hour, nil)
	posts, comments, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if posts != 1 || comments != 0 {
		t.Fatalf("expected 1 post fixed, got posts=%d comments=%d", posts, comments)
	}

	failing := NewReconciler(&countingRecounter{err: errors.New("db down")}, time.Hour, nil)
	if _, _, err := failing.RunOnce(ctx); err == nil {
		t.Fatal("expected error to surface")
	}
}

func TestReconciler_StartTicksUntilCancelled(t *testing.T) {
	rc := &countingRecounter{}
	r := NewReconciler(rc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for rc.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if rc.calls.Load() < 2 {
		t.Fatalf("expected at least 2 passes, got %d", rc.calls.Load())
	}
}

func TestReconciler_ZeroIntervalDisabled(t *testing.T) {
	rc := &countingRecounter{}
	NewReconciler(rc, 0, nil).Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if rc.calls.Load() != 0 {
		t.Fatalf("expected no passes, got %d", rc.calls.Load())
	}
}
