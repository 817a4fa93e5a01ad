package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/blog-platform/services/engagement/internal/domain"
)

// Postgres error codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists engagement data in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by Postgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Read(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicate
		case pgForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type pgTx struct {
	q querier
}

const likeCols = `id, user_id, post_id, comment_id, created_at`

func scanLike(row pgx.Row) (domain.Like, error) {
	var l domain.Like
	err := row.Scan(&l.ID, &l.UserID, &l.PostID, &l.CommentID, &l.CreatedAt)
	return l, err
}

func (t *pgTx) FindLike(ctx context.Context, userID string, target domain.Target) (domain.Like, error) {
	var row pgx.Row
	if target.IsComment() {
		row = t.q.QueryRow(ctx, `SELECT `+likeCols+` FROM likes WHERE user_id = $1 AND comment_id = $2`, userID, target.CommentID)
	} else {
		row = t.q.QueryRow(ctx, `SELECT `+likeCols+` FROM likes WHERE user_id = $1 AND post_id = $2`, userID, target.PostID)
	}
	l, err := scanLike(row)
	return l, mapErr(err)
}

// InsertLike relies on the partial unique indexes: a concurrent duplicate
// returns no row instead of aborting the transaction.
func (t *pgTx) InsertLike(ctx context.Context, l domain.Like) (domain.Like, error) {
	const q = `INSERT INTO likes (user_id, post_id, comment_id, created_at)
	           VALUES ($1, $2, $3, COALESCE($4, now()))
	           ON CONFLICT DO NOTHING
	           RETURNING ` + likeCols
	out, err := scanLike(t.q.QueryRow(ctx, q, l.UserID, l.PostID, l.CommentID, nullTime(l.CreatedAt)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Like{}, ErrDuplicate
	}
	return out, mapErr(err)
}

func (t *pgTx) DeleteLike(ctx context.Context, id string) (bool, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM likes WHERE id = $1`, id)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) DeleteLikesByComments(ctx context.Context, commentIDs []string) (int, error) {
	if len(commentIDs) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM likes WHERE comment_id = ANY($1)`, commentIDs)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) DeleteLikesByPost(ctx context.Context, postID string) (int, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM likes WHERE post_id = $1`, postID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) EngagedUsers(ctx context.Context, postID string, commentIDs []string) ([]string, error) {
	const q = `SELECT user_id FROM likes WHERE comment_id = ANY($2)
	           UNION SELECT user_id FROM likes WHERE $1 <> '' AND post_id = $1
	           UNION SELECT user_id FROM saved_posts WHERE $1 <> '' AND post_id = $1
	           ORDER BY user_id`
	rows, err := t.q.Query(ctx, q, postID, commentIDs)
	if err != nil {
		return nil, mapErr(err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return users, mapErr(err)
}

const saveCols = `id, user_id, post_id, created_at`

func scanSave(row pgx.Row) (domain.SavedPost, error) {
	var sp domain.SavedPost
	err := row.Scan(&sp.ID, &sp.UserID, &sp.PostID, &sp.CreatedAt)
	return sp, err
}

func (t *pgTx) FindSavedPost(ctx context.Context, userID, postID string) (domain.SavedPost, error) {
	sp, err := scanSave(t.q.QueryRow(ctx,
		`SELECT `+saveCols+` FROM saved_posts WHERE user_id = $1 AND post_id = $2`, userID, postID))
	return sp, mapErr(err)
}

func (t *pgTx) InsertSavedPost(ctx context.Context, sp domain.SavedPost) (domain.SavedPost, error) {
	const q = `INSERT INTO saved_posts (user_id, post_id, created_at)
	           VALUES ($1, $2, COALESCE($3, now()))
	           ON CONFLICT (user_id, post_id) DO NOTHING
	           RETURNING ` + saveCols
	out, err := scanSave(t.q.QueryRow(ctx, q, sp.UserID, sp.PostID, nullTime(sp.CreatedAt)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SavedPost{}, ErrDuplicate
	}
	return out, mapErr(err)
}

func (t *pgTx) DeleteSavedPost(ctx context.Context, id string) (bool, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM saved_posts WHERE id = $1`, id)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) DeleteSavedPostsByPost(ctx context.Context, postID string) (int, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM saved_posts WHERE post_id = $1`, postID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

const commentCols = `id, post_id, user_id, parent_id, content, like_count, created_at, updated_at`

func scanComment(row pgx.Row) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(&c.ID, &c.PostID, &c.UserID, &c.ParentID,
		&c.Content, &c.LikeCount, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *pgTx) scanComments(ctx context.Context, q string, args ...any) ([]domain.Comment, error) {
	rows, err := t.q.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	c, err := scanComment(t.q.QueryRow(ctx, `SELECT `+commentCols+` FROM comments WHERE id = $1`, id))
	return c, mapErr(err)
}

func (t *pgTx) InsertComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	const q = `INSERT INTO comments (post_id, user_id, parent_id, content, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, COALESCE($5, now()), COALESCE($5, now()))
	           RETURNING ` + commentCols
	out, err := scanComment(t.q.QueryRow(ctx, q, c.PostID, c.UserID, c.ParentID, c.Content, nullTime(c.CreatedAt)))
	return out, mapErr(err)
}

func (t *pgTx) UpdateCommentContent(ctx context.Context, id, content string, at time.Time) (domain.Comment, error) {
	const q = `UPDATE comments SET content = $1, updated_at = $2
	           WHERE id = $3
	           RETURNING ` + commentCols
	c, err := scanComment(t.q.QueryRow(ctx, q, content, at, id))
	return c, mapErr(err)
}

// DeleteComments removes the whole set in one statement so the self
// reference on parent_id is checked only once the statement ends.
func (t *pgTx) DeleteComments(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM comments WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) ListCommentsByPost(ctx context.Context, postID string) ([]domain.Comment, error) {
	return t.scanComments(ctx, `SELECT `+commentCols+` FROM comments
	      WHERE post_id = $1
	      ORDER BY created_at ASC, id ASC`, postID)
}

func (t *pgTx) ListRepliesByParent(ctx context.Context, parentID string) ([]domain.Comment, error) {
	return t.scanComments(ctx, `SELECT `+commentCols+` FROM comments
	      WHERE parent_id = $1
	      ORDER BY created_at ASC, id ASC`, parentID)
}

const postCols = `id, slug, title, description, like_count, comment_count, created_at`

func (t *pgTx) GetPost(ctx context.Context, id string) (domain.Post, error) {
	var p domain.Post
	err := t.q.QueryRow(ctx, `SELECT `+postCols+` FROM posts WHERE id = $1`, id).
		Scan(&p.ID, &p.Slug, &p.Title, &p.Description, &p.LikeCount, &p.CommentCount, &p.CreatedAt)
	return p, mapErr(err)
}

func (t *pgTx) UpsertPost(ctx context.Context, p domain.Post) error {
	const q = `INSERT INTO posts (id, slug, title, description, created_at)
	           VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	           ON CONFLICT (id) DO UPDATE SET
	             slug = EXCLUDED.slug,
	             title = EXCLUDED.title,
	             description = EXCLUDED.description,
	             updated_at = now()`
	_, err := t.q.Exec(ctx, q, p.ID, p.Slug, p.Title, p.Description, nullTime(p.CreatedAt))
	return mapErr(err)
}

func (t *pgTx) EnsurePost(ctx context.Context, id string) error {
	_, err := t.q.Exec(ctx, `INSERT INTO posts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	return mapErr(err)
}

func (t *pgTx) DeletePost(ctx context.Context, id string) (bool, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) AddPostLikes(ctx context.Context, postID string, delta int) error {
	const q = `INSERT INTO posts (id, like_count) VALUES ($1, GREATEST($2::int, 0))
	           ON CONFLICT (id) DO UPDATE SET
	             like_count = GREATEST(posts.like_count + $2::int, 0),
	             updated_at = now()`
	_, err := t.q.Exec(ctx, q, postID, delta)
	return mapErr(err)
}

func (t *pgTx) AddPostComments(ctx context.Context, postID string, delta int) error {
	const q = `INSERT INTO posts (id, comment_count) VALUES ($1, GREATEST($2::int, 0))
	           ON CONFLICT (id) DO UPDATE SET
	             comment_count = GREATEST(posts.comment_count + $2::int, 0),
	             updated_at = now()`
	_, err := t.q.Exec(ctx, q, postID, delta)
	return mapErr(err)
}

func (t *pgTx) AddCommentLikes(ctx context.Context, commentID string, delta int) error {
	const q = `UPDATE comments SET like_count = GREATEST(like_count + $1::int, 0) WHERE id = $2`
	_, err := t.q.Exec(ctx, q, delta, commentID)
	return mapErr(err)
}

// Joined reads. LEFT JOINs leave the nullable* holders empty when the
// target row is gone.

type nullablePost struct {
	id, slug, title, description *string
	likeCount, commentCount      *int
	createdAt                    *time.Time
}

func (n *nullablePost) dest() []any {
	return []any{&n.id, &n.slug, &n.title, &n.description, &n.likeCount, &n.commentCount, &n.createdAt}
}

func (n *nullablePost) post() *domain.Post {
	if n.id == nil {
		return nil
	}
	p := domain.Post{ID: *n.id}
	if n.slug != nil {
		p.Slug = *n.slug
	}
	if n.title != nil {
		p.Title = *n.title
	}
	if n.description != nil {
		p.Description = *n.description
	}
	if n.likeCount != nil {
		p.LikeCount = *n.likeCount
	}
	if n.commentCount != nil {
		p.CommentCount = *n.commentCount
	}
	if n.createdAt != nil {
		p.CreatedAt = *n.createdAt
	}
	return &p
}

type nullableComment struct {
	id, postID, userID, content *string
	parentID                    *string
	likeCount                   *int
	createdAt, updatedAt        *time.Time
}

func (n *nullableComment) dest() []any {
	return []any{&n.id, &n.postID, &n.userID, &n.parentID, &n.content, &n.likeCount, &n.createdAt, &n.updatedAt}
}

func (n *nullableComment) comment() *domain.Comment {
	if n.id == nil {
		return nil
	}
	c := domain.Comment{ID: *n.id, ParentID: n.parentID}
	if n.postID != nil {
		c.PostID = *n.postID
	}
	if n.userID != nil {
		c.UserID = *n.userID
	}
	if n.content != nil {
		c.Content = *n.content
	}
	if n.likeCount != nil {
		c.LikeCount = *n.likeCount
	}
	if n.createdAt != nil {
		c.CreatedAt = *n.createdAt
	}
	if n.updatedAt != nil {
		c.UpdatedAt = *n.updatedAt
	}
	return &c
}

func (s *PostgresStore) RecentLikes(ctx context.Context, userID string, limit int) ([]domain.LikeWithTarget, error) {
	const q = `SELECT l.id, l.user_id, l.post_id, l.comment_id, l.created_at,
	                  c.id, c.post_id, c.user_id, c.parent_id, c.content, c.like_count, c.created_at, c.updated_at,
	                  p.id, p.slug, p.title, p.description, p.like_count, p.comment_count, p.created_at
	           FROM likes l
	           LEFT JOIN comments c ON c.id = l.comment_id
	           LEFT JOIN posts p ON p.id = COALESCE(l.post_id, c.post_id)
	           WHERE l.user_id = $1
	           ORDER BY l.created_at DESC, l.id DESC
	           LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LikeWithTarget
	for rows.Next() {
		var (
			row domain.LikeWithTarget
			nc  nullableComment
			np  nullablePost
		)
		dest := []any{&row.Like.ID, &row.Like.UserID, &row.Like.PostID, &row.Like.CommentID, &row.Like.CreatedAt}
		dest = append(dest, nc.dest()...)
		dest = append(dest, np.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row.Comment = nc.comment()
		row.Post = np.post()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecentComments(ctx context.Context, userID string, limit int) ([]domain.CommentWithPost, error) {
	const q = `SELECT c.id, c.post_id, c.user_id, c.parent_id, c.content, c.like_count, c.created_at, c.updated_at,
	                  p.id, p.slug, p.title, p.description, p.like_count, p.comment_count, p.created_at
	           FROM comments c
	           LEFT JOIN posts p ON p.id = c.post_id
	           WHERE c.user_id = $1
	           ORDER BY c.created_at DESC, c.id DESC
	           LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CommentWithPost
	for rows.Next() {
		var (
			row domain.CommentWithPost
			np  nullablePost
		)
		c := &row.Comment
		dest := []any{&c.ID, &c.PostID, &c.UserID, &c.ParentID, &c.Content, &c.LikeCount, &c.CreatedAt, &c.UpdatedAt}
		dest = append(dest, np.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row.Post = np.post()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) querySaves(ctx context.Context, q string, args ...any) ([]domain.SavedPostWithPost, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SavedPostWithPost{}
	for rows.Next() {
		var (
			row domain.SavedPostWithPost
			np  nullablePost
		)
		sp := &row.SavedPost
		dest := []any{&sp.ID, &sp.UserID, &sp.PostID, &sp.CreatedAt}
		dest = append(dest, np.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row.Post = np.post()
		out = append(out, row)
	}
	return out, rows.Err()
}

const savesJoin = `SELECT s.id, s.user_id, s.post_id, s.created_at,
	                  p.id, p.slug, p.title, p.description, p.like_count, p.comment_count, p.created_at
	           FROM saved_posts s
	           LEFT JOIN posts p ON p.id = s.post_id
	           WHERE s.user_id = $1
	           ORDER BY s.created_at DESC, s.id DESC`

func (s *PostgresStore) RecentSaves(ctx context.Context, userID string, limit int) ([]domain.SavedPostWithPost, error) {
	return s.querySaves(ctx, savesJoin+` LIMIT $2`, userID, limit)
}

func (s *PostgresStore) ListSavedPosts(ctx context.Context, userID string, offset, limit int) ([]domain.SavedPostWithPost, int, error) {
	if offset < 0 {
		offset = 0
	}
	total, err := s.count(ctx, `SELECT COUNT(*) FROM saved_posts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.querySaves(ctx, savesJoin+` LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) count(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountLikes(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM likes WHERE user_id = $1`, userID)
}

func (s *PostgresStore) CountPostLikes(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM likes WHERE user_id = $1 AND post_id IS NOT NULL`, userID)
}

func (s *PostgresStore) CountComments(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM comments WHERE user_id = $1`, userID)
}

func (s *PostgresStore) CountSaves(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM saved_posts WHERE user_id = $1`, userID)
}

func (s *PostgresStore) FirstEngagementAt(ctx context.Context, userID string) (time.Time, bool, error) {
	const q = `SELECT MIN(t) FROM (
	             SELECT MIN(created_at) AS t FROM likes WHERE user_id = $1
	             UNION ALL SELECT MIN(created_at) FROM comments WHERE user_id = $1
	             UNION ALL SELECT MIN(created_at) FROM saved_posts WHERE user_id = $1
	           ) first_seen`
	var first *time.Time
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&first); err != nil {
		return time.Time{}, false, err
	}
	if first == nil {
		return time.Time{}, false, nil
	}
	return *first, true, nil
}

const (
	lockPosts    = `SELECT id FROM posts ORDER BY id FOR UPDATE`
	lockComments = `SELECT id FROM comments ORDER BY id FOR UPDATE`

	recountPosts = `WITH actual AS (
	                  SELECT p.id,
	                         (SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id)::int AS likes,
	                         (SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id)::int AS comments
	                  FROM posts p
	                  WHERE p.id = ANY($1)
	                )
	                UPDATE posts SET like_count = a.likes, comment_count = a.comments, updated_at = now()
	                FROM actual a
	                WHERE posts.id = a.id
	                  AND (posts.like_count <> a.likes OR posts.comment_count <> a.comments)`

	recountComments = `WITH actual AS (
	                     SELECT c.id, (SELECT COUNT(*) FROM likes l WHERE l.comment_id = c.id)::int AS likes
	                     FROM comments c
	                     WHERE c.id = ANY($1)
	                   )
	                   UPDATE comments SET like_count = a.likes
	                   FROM actual a
	                   WHERE comments.id = a.id AND comments.like_count <> a.likes`
)

func (s *PostgresStore) RecountPosts(ctx context.Context) (int, error) {
	return s.recount(ctx, lockPosts, recountPosts)
}

func (s *PostgresStore) RecountComments(ctx context.Context) (int, error) {
	return s.recount(ctx, lockComments, recountComments)
}

func (s *PostgresStore) recount(ctx context.Context, lock, update string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := recountLocked(ctx, tx, lock, update)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit(ctx)
}

// recountLocked row-locks every counter row before counting. Under READ
// COMMITTED the update statement takes its snapshot after the locks are
// granted, so it sees every delta committed by writers it waited for, and
// writers that arrive later block until the recount commits.
func recountLocked(ctx context.Context, q querier, lock, update string) (int, error) {
	rows, err := q.Query(ctx, lock)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := q.Exec(ctx, update, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
