package engagement

import (
	"context"

	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

// Counter maintenance. Every hook runs inside the transaction that changed
// the source rows and issues a single atomic delta, never a read-modify-write.

// OnLikeAdded bumps the like counter of the liked post or comment.
func OnLikeAdded(ctx context.Context, tx store.Tx, t domain.Target) error {
	return likeDelta(ctx, tx, t, 1)
}

// OnLikeRemoved is the inverse of OnLikeAdded.
func OnLikeRemoved(ctx context.Context, tx store.Tx, t domain.Target) error {
	return likeDelta(ctx, tx, t, -1)
}

func likeDelta(ctx context.Context, tx store.Tx, t domain.Target, delta int) error {
	if t.IsComment() {
		return tx.AddCommentLikes(ctx, t.CommentID, delta)
	}
	return tx.AddPostLikes(ctx, t.PostID, delta)
}

func OnCommentAdded(ctx context.Context, tx store.Tx, postID string) error {
	return tx.AddPostComments(ctx, postID, 1)
}

func OnCommentRemoved(ctx context.Context, tx store.Tx, postID string) error {
	return OnCommentsRemoved(ctx, tx, postID, 1)
}

// OnCommentsRemoved subtracts a whole deleted subtree in one statement.
func OnCommentsRemoved(ctx context.Context, tx store.Tx, postID string, n int) error {
	if n <= 0 {
		return nil
	}
	return tx.AddPostComments(ctx, postID, -n)
}
