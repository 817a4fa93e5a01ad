package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
)

// Content service subjects.
const (
	PostsStream         = "CONTENT_POSTS"
	PostsSubjects       = "content.posts.*"
	SubjectPostUpserted = "content.posts.upserted"
	SubjectPostDeleted  = "content.posts.deleted"

	postsDurable = "engagement_posts"
)

// PostUpsertedEvent is the payload for content.posts.upserted.
type PostUpsertedEvent struct {
	EventID     string    `json:"event_id"`
	PostID      string    `json:"post_id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PostDeletedEvent is the payload for content.posts.deleted.
type PostDeletedEvent struct {
	EventID string `json:"event_id"`
	PostID  string `json:"post_id"`
}

// PostSink applies post lifecycle changes. *engagement.Service satisfies it.
type PostSink interface {
	UpsertPost(ctx context.Context, p domain.Post) error
	DeletePost(ctx context.Context, postID string) (engagement.PostCascade, error)
}

// errMalformed marks messages that can never succeed and must not be redelivered.
var errMalformed = errors.New("malformed event")

type PostsConsumer struct {
	Sink          PostSink
	Log           *zap.Logger
	BatchSize     int
	BatchInterval time.Duration
}

func NewPostsConsumer(sink PostSink, log *zap.Logger) *PostsConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostsConsumer{
		Sink:          sink,
		Log:           log,
		BatchSize:     envInt("WORKER_BATCH_SIZE", 100),
		BatchInterval: time.Duration(envInt("WORKER_BATCH_INTERVAL_MS", 2000)) * time.Millisecond,
	}
}

// Handle applies one message. Deletion runs the whole post cascade in a
// single transaction, so a redelivered delete is a harmless no-op.
func (c *PostsConsumer) Handle(ctx context.Context, subject string, data []byte) error {
	switch subject {
	case SubjectPostUpserted:
		var ev PostUpsertedEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.PostID == "" {
			return fmt.Errorf("%w: upserted: %v", errMalformed, err)
		}
		return c.Sink.UpsertPost(ctx, domain.Post{
			ID:          ev.PostID,
			Slug:        ev.Slug,
			Title:       ev.Title,
			Description: ev.Description,
			CreatedAt:   ev.CreatedAt,
		})
	case SubjectPostDeleted:
		var ev PostDeletedEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.PostID == "" {
			return fmt.Errorf("%w: deleted: %v", errMalformed, err)
		}
		_, err := c.Sink.DeletePost(ctx, ev.PostID)
		return err
	}
	return fmt.Errorf("%w: unknown subject %s", errMalformed, subject)
}

// Start pulls content.posts.* until ctx is done. Messages are acked after
// the change commits, nacked on failure and terminated when malformed.
func (c *PostsConsumer) Start(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.PullSubscribe(PostsSubjects, postsDurable)
	if err != nil {
		return fmt.Errorf("posts_consumer: subscribe: %w", err)
	}

	go func() {
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(c.BatchSize, nats.MaxWait(c.BatchInterval))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
					continue
				}
				c.Log.Warn("posts_consumer: fetch", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, m := range msgs {
				c.process(ctx, m)
			}
		}
	}()
	return nil
}

func (c *PostsConsumer) process(ctx context.Context, m *nats.Msg) {
	err := c.Handle(ctx, m.Subject, m.Data)
	switch {
	case err == nil:
		if err := m.Ack(); err != nil {
			c.Log.Warn("posts_consumer: ack", zap.Error(err))
		}
	case errors.Is(err, errMalformed):
		c.Log.Error("posts_consumer: dropping message", zap.String("subject", m.Subject), zap.Error(err))
		if err := m.Term(); err != nil {
			c.Log.Warn("posts_consumer: term", zap.Error(err))
		}
	default:
		c.Log.Error("posts_consumer: apply", zap.String("subject", m.Subject), zap.Error(err))
		if err := m.Nak(); err != nil {
			c.Log.Warn("posts_consumer: nak", zap.Error(err))
		}
	}
}

// IsMalformed reports whether err came from an undecodable message.
func IsMalformed(err error) bool { return errors.Is(err, errMalformed) }

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
