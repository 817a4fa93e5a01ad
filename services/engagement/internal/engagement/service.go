// Package engagement holds the business rules of the engagement subsystem:
// idempotent like and save toggles, threaded comments with ownership and an
// edit window, denormalized counters, and the read-side activity feed and
// user stats aggregations.
package engagement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

const (
	MaxCommentLength = 2000
	EditWindow       = 24 * time.Hour

	DefaultFeedLimit = 10
	MaxFeedLimit     = 50

	previewLength = 100
)

// Publisher emits engagement events. *analytics.Publisher satisfies it.
type Publisher interface {
	Publish(subject, userID string, props map[string]any)
}

// StatsCache caches computed user stats. Implementations swallow their own
// failures; a miss is always safe.
type StatsCache interface {
	Get(ctx context.Context, userID string) (domain.Stats, bool)
	Set(ctx context.Context, userID string, st domain.Stats)
	Invalidate(ctx context.Context, userID string)
}

// Deps wires a Service. Only Store is required.
type Deps struct {
	Store    store.Store
	Events   Publisher
	Cache    StatsCache
	Sessions *Sessions
	Log      *zap.Logger
	Now      func() time.Time
}

type Service struct {
	store    store.Store
	events   Publisher
	cache    StatsCache
	sessions *Sessions
	log      *zap.Logger

	// Now stamps new rows and drives the edit window.
	Now func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		events:   d.Events,
		cache:    d.Cache,
		sessions: d.Sessions,
		log:      d.Log,
		Now:      d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Store exposes the backing store for readiness checks and workers.
func (s *Service) Store() store.Store { return s.store }

func (s *Service) now() time.Time { return s.Now() }

func requireUser(userID string) error {
	if userID == "" {
		return domain.Errorf(domain.ErrAuthRequired, "authentication required")
	}
	return nil
}

// fail passes domain errors through and turns anything else into a storage
// error.
func (s *Service) fail(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) || errors.Is(err, domain.ErrStorage) {
		return err
	}
	s.log.Error("engagement: storage failure", zap.String("op", op), zap.Error(err))
	return domain.Storage(op, err)
}

// invalidateStats drops cached stats of every user a cascade touched.
func (s *Service) invalidateStats(ctx context.Context, users []string) {
	if s.cache == nil {
		return
	}
	for _, uid := range users {
		s.cache.Invalidate(ctx, uid)
	}
}

// affectedUsers lists the authors of the doomed comments plus everyone
// EngagedUsers reports for them.
func affectedUsers(ctx context.Context, tx store.Tx, postID string, comments []domain.Comment, ids []string) ([]string, error) {
	users, err := tx.EngagedUsers(ctx, postID, ids)
	if err != nil {
		return nil, err
	}
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	seen := make(map[string]bool, len(users))
	for _, uid := range users {
		seen[uid] = true
	}
	for _, c := range comments {
		if doomed[c.ID] && !seen[c.UserID] {
			seen[c.UserID] = true
			users = append(users, c.UserID)
		}
	}
	return users, nil
}

// afterMutation runs the fire-and-forget side effects of a committed change.
func (s *Service) afterMutation(ctx context.Context, userID, subject string, props map[string]any, entry SessionEntry) {
	if s.events != nil {
		s.events.Publish(subject, userID, props)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
	if s.sessions != nil {
		sid := auth.SessionIDFromContext(ctx)
		if sid == "" {
			sid = userID
		}
		entry.At = s.now()
		s.sessions.Record(sid, entry)
	}
}
