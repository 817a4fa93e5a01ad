package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/example/blog-platform/services/engagement/internal/domain"
)

var errReadOnly = errors.New("write attempted inside Read")

type likeKey struct {
	userID    string
	postID    string
	commentID string
}

func likeKeyFor(userID string, t domain.Target) likeKey {
	return likeKey{userID: userID, postID: t.PostID, commentID: t.CommentID}
}

type saveKey struct {
	userID string
	postID string
}

// memState is the whole dataset. It is only touched with InMemoryStore.mu held.
type memState struct {
	posts    map[string]domain.Post
	comments map[string]domain.Comment
	likes    map[string]domain.Like
	likeIdx  map[likeKey]string
	saves    map[string]domain.SavedPost
	saveIdx  map[saveKey]string
}

func newMemState() *memState {
	return &memState{
		posts:    make(map[string]domain.Post),
		comments: make(map[string]domain.Comment),
		likes:    make(map[string]domain.Like),
		likeIdx:  make(map[likeKey]string),
		saves:    make(map[string]domain.SavedPost),
		saveIdx:  make(map[saveKey]string),
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	for k, v := range st.posts {
		out.posts[k] = v
	}
	for k, v := range st.comments {
		out.comments[k] = v
	}
	for k, v := range st.likes {
		out.likes[k] = v
	}
	for k, v := range st.likeIdx {
		out.likeIdx[k] = v
	}
	for k, v := range st.saves {
		out.saves[k] = v
	}
	for k, v := range st.saveIdx {
		out.saveIdx[k] = v
	}
	return out
}

// InMemoryStore is a development-only Store. Transactions work on a copy of
// the dataset that replaces the live one on success, so a failed InTx leaves
// no partial writes behind.
type InMemoryStore struct {
	mu  sync.RWMutex
	st  *memState
	now func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		st:      newMemState(),
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *InMemoryStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *InMemoryStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{s: s, st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *InMemoryStore) Read(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{s: s, st: s.st, readOnly: true})
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

type memTx struct {
	s        *InMemoryStore
	st       *memState
	readOnly bool
}

func (t *memTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) FindLike(_ context.Context, userID string, target domain.Target) (domain.Like, error) {
	id, ok := t.st.likeIdx[likeKeyFor(userID, target)]
	if !ok {
		return domain.Like{}, ErrNotFound
	}
	return t.st.likes[id], nil
}

func (t *memTx) InsertLike(_ context.Context, l domain.Like) (domain.Like, error) {
	if err := t.write(); err != nil {
		return domain.Like{}, err
	}
	key := likeKeyFor(l.UserID, l.Target())
	if _, ok := t.st.likeIdx[key]; ok {
		return domain.Like{}, ErrDuplicate
	}
	if l.CommentID != nil {
		if _, ok := t.st.comments[*l.CommentID]; !ok {
			return domain.Like{}, ErrNotFound
		}
	}
	l.ID = t.s.newID()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = t.s.now()
	}
	t.st.likes[l.ID] = l
	t.st.likeIdx[key] = l.ID
	return l, nil
}

func (t *memTx) deleteLike(id string) bool {
	l, ok := t.st.likes[id]
	if !ok {
		return false
	}
	delete(t.st.likes, id)
	delete(t.st.likeIdx, likeKeyFor(l.UserID, l.Target()))
	return true
}

func (t *memTx) DeleteLike(_ context.Context, id string) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	return t.deleteLike(id), nil
}

func (t *memTx) DeleteLikesByComments(_ context.Context, commentIDs []string) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	set := toSet(commentIDs)
	n := 0
	for id, l := range t.st.likes {
		if l.CommentID != nil && set[*l.CommentID] && t.deleteLike(id) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteLikesByPost(_ context.Context, postID string) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	n := 0
	for id, l := range t.st.likes {
		if l.PostID != nil && *l.PostID == postID && t.deleteLike(id) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) EngagedUsers(_ context.Context, postID string, commentIDs []string) ([]string, error) {
	set := toSet(commentIDs)
	seen := make(map[string]bool)
	var users []string
	add := func(uid string) {
		if !seen[uid] {
			seen[uid] = true
			users = append(users, uid)
		}
	}
	for _, l := range t.st.likes {
		switch {
		case l.CommentID != nil && set[*l.CommentID]:
			add(l.UserID)
		case postID != "" && l.PostID != nil && *l.PostID == postID:
			add(l.UserID)
		}
	}
	if postID != "" {
		for _, sp := range t.st.saves {
			if sp.PostID == postID {
				add(sp.UserID)
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

func (t *memTx) FindSavedPost(_ context.Context, userID, postID string) (domain.SavedPost, error) {
	id, ok := t.st.saveIdx[saveKey{userID, postID}]
	if !ok {
		return domain.SavedPost{}, ErrNotFound
	}
	return t.st.saves[id], nil
}

func (t *memTx) InsertSavedPost(_ context.Context, sp domain.SavedPost) (domain.SavedPost, error) {
	if err := t.write(); err != nil {
		return domain.SavedPost{}, err
	}
	key := saveKey{sp.UserID, sp.PostID}
	if _, ok := t.st.saveIdx[key]; ok {
		return domain.SavedPost{}, ErrDuplicate
	}
	sp.ID = t.s.newID()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = t.s.now()
	}
	t.st.saves[sp.ID] = sp
	t.st.saveIdx[key] = sp.ID
	return sp, nil
}

func (t *memTx) deleteSave(id string) bool {
	sp, ok := t.st.saves[id]
	if !ok {
		return false
	}
	delete(t.st.saves, id)
	delete(t.st.saveIdx, saveKey{sp.UserID, sp.PostID})
	return true
}

func (t *memTx) DeleteSavedPost(_ context.Context, id string) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	return t.deleteSave(id), nil
}

func (t *memTx) DeleteSavedPostsByPost(_ context.Context, postID string) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	n := 0
	for id, sp := range t.st.saves {
		if sp.PostID == postID && t.deleteSave(id) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetComment(_ context.Context, id string) (domain.Comment, error) {
	c, ok := t.st.comments[id]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	return c, nil
}

func (t *memTx) InsertComment(_ context.Context, c domain.Comment) (domain.Comment, error) {
	if err := t.write(); err != nil {
		return domain.Comment{}, err
	}
	if c.ParentID != nil {
		if _, ok := t.st.comments[*c.ParentID]; !ok {
			return domain.Comment{}, ErrNotFound
		}
	}
	c.ID = t.s.newID()
	c.LikeCount = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.s.now()
	}
	c.UpdatedAt = c.CreatedAt
	t.st.comments[c.ID] = c
	return c, nil
}

func (t *memTx) UpdateCommentContent(_ context.Context, id, content string, at time.Time) (domain.Comment, error) {
	if err := t.write(); err != nil {
		return domain.Comment{}, err
	}
	c, ok := t.st.comments[id]
	if !ok {
		return domain.Comment{}, ErrNotFound
	}
	c.Content = content
	c.UpdatedAt = at
	t.st.comments[id] = c
	return c, nil
}

// DeleteComments mirrors the foreign keys of the SQL schema: a comment that
// is still liked, or still has a reply outside the deleted set, is refused.
func (t *memTx) DeleteComments(_ context.Context, ids []string) (int, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	set := toSet(ids)
	for _, l := range t.st.likes {
		if l.CommentID != nil && set[*l.CommentID] {
			return 0, fmt.Errorf("comment %s is still referenced by like %s", *l.CommentID, l.ID)
		}
	}
	for _, c := range t.st.comments {
		if c.ParentID != nil && set[*c.ParentID] && !set[c.ID] {
			return 0, fmt.Errorf("comment %s is still referenced by reply %s", *c.ParentID, c.ID)
		}
	}
	n := 0
	for id := range set {
		if _, ok := t.st.comments[id]; ok {
			delete(t.st.comments, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) ListCommentsByPost(_ context.Context, postID string) ([]domain.Comment, error) {
	var out []domain.Comment
	for _, c := range t.st.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sortCommentsAsc(out)
	return out, nil
}

func (t *memTx) ListRepliesByParent(_ context.Context, parentID string) ([]domain.Comment, error) {
	var out []domain.Comment
	for _, c := range t.st.comments {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sortCommentsAsc(out)
	return out, nil
}

func (t *memTx) GetPost(_ context.Context, id string) (domain.Post, error) {
	p, ok := t.st.posts[id]
	if !ok {
		return domain.Post{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) UpsertPost(_ context.Context, p domain.Post) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.st.posts[p.ID]
	if !ok {
		cur = domain.Post{ID: p.ID, CreatedAt: p.CreatedAt}
		if cur.CreatedAt.IsZero() {
			cur.CreatedAt = t.s.now()
		}
	}
	cur.Slug = p.Slug
	cur.Title = p.Title
	cur.Description = p.Description
	t.st.posts[p.ID] = cur
	return nil
}

func (t *memTx) EnsurePost(_ context.Context, id string) error {
	if err := t.write(); err != nil {
		return err
	}
	t.st.posts[id] = t.postRow(id)
	return nil
}

func (t *memTx) DeletePost(_ context.Context, id string) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	if _, ok := t.st.posts[id]; !ok {
		return false, nil
	}
	delete(t.st.posts, id)
	return true, nil
}

func (t *memTx) postRow(id string) domain.Post {
	p, ok := t.st.posts[id]
	if !ok {
		p = domain.Post{ID: id, CreatedAt: t.s.now()}
	}
	return p
}

func (t *memTx) AddPostLikes(_ context.Context, postID string, delta int) error {
	if err := t.write(); err != nil {
		return err
	}
	p := t.postRow(postID)
	p.LikeCount = floorZero(p.LikeCount + delta)
	t.st.posts[postID] = p
	return nil
}

func (t *memTx) AddPostComments(_ context.Context, postID string, delta int) error {
	if err := t.write(); err != nil {
		return err
	}
	p := t.postRow(postID)
	p.CommentCount = floorZero(p.CommentCount + delta)
	t.st.posts[postID] = p
	return nil
}

func (t *memTx) AddCommentLikes(_ context.Context, commentID string, delta int) error {
	if err := t.write(); err != nil {
		return err
	}
	c, ok := t.st.comments[commentID]
	if !ok {
		return nil
	}
	c.LikeCount = floorZero(c.LikeCount + delta)
	t.st.comments[commentID] = c
	return nil
}

// Reader

func (s *InMemoryStore) RecentLikes(_ context.Context, userID string, limit int) ([]domain.LikeWithTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var likes []domain.Like
	for _, l := range s.st.likes {
		if l.UserID == userID {
			likes = append(likes, l)
		}
	}
	sort.Slice(likes, func(i, j int) bool { return newerFirst(likes[i].CreatedAt, likes[j].CreatedAt, likes[i].ID, likes[j].ID) })
	likes = truncate(likes, limit)

	out := make([]domain.LikeWithTarget, 0, len(likes))
	for _, l := range likes {
		row := domain.LikeWithTarget{Like: l}
		switch {
		case l.PostID != nil:
			row.Post = s.st.postPtr(*l.PostID)
		case l.CommentID != nil:
			if c, ok := s.st.comments[*l.CommentID]; ok {
				row.Comment = &c
				row.Post = s.st.postPtr(c.PostID)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *InMemoryStore) RecentComments(_ context.Context, userID string, limit int) ([]domain.CommentWithPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var comments []domain.Comment
	for _, c := range s.st.comments {
		if c.UserID == userID {
			comments = append(comments, c)
		}
	}
	sort.Slice(comments, func(i, j int) bool {
		return newerFirst(comments[i].CreatedAt, comments[j].CreatedAt, comments[i].ID, comments[j].ID)
	})
	comments = truncate(comments, limit)

	out := make([]domain.CommentWithPost, 0, len(comments))
	for _, c := range comments {
		out = append(out, domain.CommentWithPost{Comment: c, Post: s.st.postPtr(c.PostID)})
	}
	return out, nil
}

func (s *InMemoryStore) userSaves(userID string) []domain.SavedPost {
	var saves []domain.SavedPost
	for _, sp := range s.st.saves {
		if sp.UserID == userID {
			saves = append(saves, sp)
		}
	}
	sort.Slice(saves, func(i, j int) bool { return newerFirst(saves[i].CreatedAt, saves[j].CreatedAt, saves[i].ID, saves[j].ID) })
	return saves
}

func (s *InMemoryStore) joinSaves(saves []domain.SavedPost) []domain.SavedPostWithPost {
	out := make([]domain.SavedPostWithPost, 0, len(saves))
	for _, sp := range saves {
		out = append(out, domain.SavedPostWithPost{SavedPost: sp, Post: s.st.postPtr(sp.PostID)})
	}
	return out
}

func (s *InMemoryStore) RecentSaves(_ context.Context, userID string, limit int) ([]domain.SavedPostWithPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinSaves(truncate(s.userSaves(userID), limit)), nil
}

func (s *InMemoryStore) ListSavedPosts(_ context.Context, userID string, offset, limit int) ([]domain.SavedPostWithPost, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saves := s.userSaves(userID)
	total := len(saves)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.SavedPostWithPost{}, total, nil
	}
	return s.joinSaves(truncate(saves[offset:], limit)), total, nil
}

func (s *InMemoryStore) CountLikes(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.st.likes {
		if l.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountPostLikes(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.st.likes {
		if l.UserID == userID && l.PostID != nil {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountComments(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.st.comments {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountSaves(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sp := range s.st.saves {
		if sp.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) FirstEngagementAt(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first time.Time
	see := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	for _, l := range s.st.likes {
		if l.UserID == userID {
			see(l.CreatedAt)
		}
	}
	for _, c := range s.st.comments {
		if c.UserID == userID {
			see(c.CreatedAt)
		}
	}
	for _, sp := range s.st.saves {
		if sp.UserID == userID {
			see(sp.CreatedAt)
		}
	}
	return first, !first.IsZero(), nil
}

// Recounter

func (s *InMemoryStore) RecountPosts(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	likes := make(map[string]int)
	for _, l := range s.st.likes {
		if l.PostID != nil {
			likes[*l.PostID]++
		}
	}
	comments := make(map[string]int)
	for _, c := range s.st.comments {
		comments[c.PostID]++
	}

	changed := 0
	for id, p := range s.st.posts {
		if p.LikeCount == likes[id] && p.CommentCount == comments[id] {
			continue
		}
		p.LikeCount = likes[id]
		p.CommentCount = comments[id]
		s.st.posts[id] = p
		changed++
	}
	return changed, nil
}

func (s *InMemoryStore) RecountComments(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	likes := make(map[string]int)
	for _, l := range s.st.likes {
		if l.CommentID != nil {
			likes[*l.CommentID]++
		}
	}
	changed := 0
	for id, c := range s.st.comments {
		if c.LikeCount == likes[id] {
			continue
		}
		c.LikeCount = likes[id]
		s.st.comments[id] = c
		changed++
	}
	return changed, nil
}

func (st *memState) postPtr(id string) *domain.Post {
	p, ok := st.posts[id]
	if !ok {
		return nil
	}
	return &p
}

func sortCommentsAsc(cs []domain.Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func newerFirst(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}

func truncate[T any](xs []T, limit int) []T {
	if limit > 0 && len(xs) > limit {
		return xs[:limit]
	}
	return xs
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
