// Package store is the engagement Interaction Store: durable storage and
// point/range lookups of likes, comments and saved posts plus the post
// projection that carries the denormalized counters. No business rules live
// here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/blog-platform/services/engagement/internal/domain"
)

// Sentinel errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Tx is the set of operations that can run inside one atomic unit.
// Implementations return ErrNotFound for missing rows and ErrDuplicate when a
// uniqueness constraint rejects an insert.
type Tx interface {
	FindLike(ctx context.Context, userID string, target domain.Target) (domain.Like, error)
	// InsertLike stores l. CreatedAt is kept when set.
	InsertLike(ctx context.Context, l domain.Like) (domain.Like, error)
	// DeleteLike reports whether a row was removed.
	DeleteLike(ctx context.Context, id string) (bool, error)
	DeleteLikesByComments(ctx context.Context, commentIDs []string) (int, error)
	DeleteLikesByPost(ctx context.Context, postID string) (int, error)
	// EngagedUsers returns the distinct users with a like on any of
	// commentIDs and, when postID is set, a like or save on that post.
	EngagedUsers(ctx context.Context, postID string, commentIDs []string) ([]string, error)

	FindSavedPost(ctx context.Context, userID, postID string) (domain.SavedPost, error)
	InsertSavedPost(ctx context.Context, sp domain.SavedPost) (domain.SavedPost, error)
	DeleteSavedPost(ctx context.Context, id string) (bool, error)
	DeleteSavedPostsByPost(ctx context.Context, postID string) (int, error)

	GetComment(ctx context.Context, id string) (domain.Comment, error)
	InsertComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	UpdateCommentContent(ctx context.Context, id, content string, at time.Time) (domain.Comment, error)
	DeleteComments(ctx context.Context, ids []string) (int, error)
	// ListCommentsByPost returns every comment of a post, oldest first.
	ListCommentsByPost(ctx context.Context, postID string) ([]domain.Comment, error)
	// ListRepliesByParent returns the direct replies of a comment, oldest first.
	ListRepliesByParent(ctx context.Context, parentID string) ([]domain.Comment, error)

	GetPost(ctx context.Context, id string) (domain.Post, error)
	// UpsertPost writes post metadata and never touches counters.
	UpsertPost(ctx context.Context, p domain.Post) error
	// EnsurePost creates an empty projection row when none exists yet.
	EnsurePost(ctx context.Context, id string) error
	DeletePost(ctx context.Context, id string) (bool, error)

	// Counter deltas are applied atomically by the backend and floored at zero.
	// Post deltas create the projection row when it does not exist yet.
	AddPostLikes(ctx context.Context, postID string, delta int) error
	AddPostComments(ctx context.Context, postID string, delta int) error
	AddCommentLikes(ctx context.Context, commentID string, delta int) error
}

// Reader holds the per-user read paths used by the feed and stats
// aggregators. Each call is an independent query.
type Reader interface {
	// RecentLikes returns the newest likes of userID joined to their targets.
	// For a comment like Post is the comment's post.
	RecentLikes(ctx context.Context, userID string, limit int) ([]domain.LikeWithTarget, error)
	RecentComments(ctx context.Context, userID string, limit int) ([]domain.CommentWithPost, error)
	RecentSaves(ctx context.Context, userID string, limit int) ([]domain.SavedPostWithPost, error)
	ListSavedPosts(ctx context.Context, userID string, offset, limit int) ([]domain.SavedPostWithPost, int, error)

	CountLikes(ctx context.Context, userID string) (int, error)
	CountPostLikes(ctx context.Context, userID string) (int, error)
	CountComments(ctx context.Context, userID string) (int, error)
	CountSaves(ctx context.Context, userID string) (int, error)
	// FirstEngagementAt is the oldest like, comment or save of userID.
	FirstEngagementAt(ctx context.Context, userID string) (time.Time, bool, error)
}

// Recounter recomputes denormalized counters from source rows.
type Recounter interface {
	// RecountPosts fixes like_count and comment_count on every post and
	// returns how many rows changed.
	RecountPosts(ctx context.Context) (int, error)
	// RecountComments fixes like_count on every comment.
	RecountComments(ctx context.Context) (int, error)
}

// Store is the full Interaction Store.
type Store interface {
	Reader
	Recounter
	// InTx runs fn atomically: either every write in fn is applied or none is.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Read runs fn against a consistent view without taking a write lock.
	// fn must not call mutating methods.
	Read(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
