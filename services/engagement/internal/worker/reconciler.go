package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Recounter recomputes denormalized counters. *engagement.Service satisfies it.
type Recounter interface {
	Reconcile(ctx context.Context) (posts, comments int, err error)
}

// Reconciler periodically fixes counter drift. Counters are maintained
// atomically on every write, so a run normally changes nothing.
type Reconciler struct {
	Recounter Recounter
	Interval  time.Duration
	Log       *zap.Logger
}

func NewReconciler(r Recounter, interval time.Duration, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{Recounter: r, Interval: interval, Log: log}
}

// RunOnce performs a single pass and logs what it fixed.
func (r *Reconciler) RunOnce(ctx context.Context) (posts, comments int, err error) {
	start := time.Now()
	posts, comments, err = r.Recounter.Reconcile(ctx)
	if err != nil {
		r.Log.Error("reconciler: pass failed", zap.Error(err))
		return posts, comments, err
	}
	fields := []zap.Field{
		zap.Int("posts_fixed", posts),
		zap.Int("comments_fixed", comments),
		zap.Duration("took", time.Since(start)),
	}
	if posts+comments > 0 {
		r.Log.Warn("reconciler: counter drift corrected", fields...)
	} else {
		r.Log.Debug("reconciler: counters consistent", fields...)
	}
	return posts, comments, nil
}

// Start runs RunOnce every Interval until ctx is done. A zero interval
// disables the loop.
func (r *Reconciler) Start(ctx context.Context) {
	if r.Interval <= 0 {
		r.Log.Info("reconciler: disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _, _ = r.RunOnce(ctx)
			}
		}
	}()
}
