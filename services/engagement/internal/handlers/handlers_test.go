package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/services/engagement/internal/domain"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
	"github.com/example/blog-platform/services/engagement/internal/store"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!!")

func newService() *engagement.Service {
	return engagement.New(engagement.Deps{
		Store:    store.NewInMemoryStore(),
		Sessions: engagement.NewSessions(engagement.SessionLogCapacity, 0),
	})
}

// setupReq builds a request with chi URL params and optional user_id in context.
func setupReq(method, url string, body string, params map[string]string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (%s)", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[api.ErrorResponse](t, rr).Error.Code
}

func TestToggleLike_Handler(t *testing.T) {
	svc := newService()
	h := ToggleLike(svc, zap.NewNop())

	rr := serve(h, setupReq(http.MethodPost, "/likes", `{"post_id":"p1","action":"like"}`, nil, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[toggleLikeResponse](t, rr); !got.Liked {
		t.Fatal("expected liked=true")
	}

	status := serve(GetLikeStatus(svc, zap.NewNop()), setupReq(http.MethodGet, "/likes?post_id=p1", "", nil, "user-a"))
	got := decode[likeStatusResponse](t, status)
	if !got.Liked || got.Count != 1 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestToggleLike_Handler_Errors(t *testing.T) {
	svc := newService()
	h := ToggleLike(svc, zap.NewNop())

	cases := []struct {
		name, body, user string
		status           int
		code             string
	}{
		{"neither target", `{"action":"like"}`, "user-a", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"both targets", `{"post_id":"p1","comment_id":"c1"}`, "user-a", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad action", `{"post_id":"p1","action":"explode"}`, "user-a", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad json", `{`, "user-a", http.StatusBadRequest, "INVALID_JSON"},
		{"anonymous", `{"post_id":"p1"}`, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing comment", `{"comment_id":"ghost","action":"like"}`, "user-a", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		rr := serve(h, setupReq(http.MethodPost, "/likes", tc.body, nil, tc.user))
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.status, rr.Code, rr.Body.String())
		}
		if code := errorCode(t, rr); code != tc.code {
			t.Fatalf("%s: expected code %s, got %s", tc.name, tc.code, code)
		}
	}
}

func TestSavedPosts_Handlers(t *testing.T) {
	svc := newService()
	toggle := ToggleSave(svc, zap.NewNop())

	for _, want := range []bool{true, false, true} {
		rr := serve(toggle, setupReq(http.MethodPost, "/saved-posts", `{"post_id":"p1","action":"toggle"}`, nil, "user-a"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if got := decode[toggleSaveResponse](t, rr); got.Saved != want {
			t.Fatalf("expected saved=%v, got %v", want, got.Saved)
		}
	}
	_ = serve(toggle, setupReq(http.MethodPost, "/saved-posts", `{"post_id":"p2","action":"save"}`, nil, "user-a"))

	rr := serve(ListSavedPosts(svc, zap.NewNop()), setupReq(http.MethodGet, "/saved-posts?page=1&limit=1", "", nil, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	page := decode[savedPostsResponse](t, rr)
	if page.Total != 2 || len(page.SavedPosts) != 1 || page.Limit != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	rr = serve(toggle, setupReq(http.MethodPost, "/saved-posts", `{"action":"save"}`, nil, "user-a"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without post_id, got %d", rr.Code)
	}
}

func TestCommentLifecycle_Handlers(t *testing.T) {
	svc := newService()
	log := zap.NewNop()

	rr := serve(CreateComment(svc, log), setupReq(http.MethodPost, "/comments", `{"post_id":"p1","content":"hello world"}`, nil, "user-a"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	root := decode[commentResponse](t, rr).Comment
	if root.Content != "hello world" || root.UserID != "user-a" {
		t.Fatalf("unexpected comment: %+v", root)
	}

	body := `{"post_id":"p1","content":"a reply","parent_id":"` + root.ID + `"}`
	rr = serve(CreateComment(svc, log), setupReq(http.MethodPost, "/comments", body, nil, "user-b"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("reply: expected 201, got %d", rr.Code)
	}

	rr = serve(GetThread(svc, log), setupReq(http.MethodGet, "/comments?post_id=p1", "", nil, ""))
	thread := decode[threadResponse](t, rr)
	if len(thread.Comments) != 1 || len(thread.Comments[0].Replies) != 1 {
		t.Fatalf("unexpected thread: %+v", thread)
	}

	rr = serve(GetReplies(svc, log), setupReq(http.MethodGet, "/comments/"+root.ID+"/replies", "", map[string]string{"comment_id": root.ID}, ""))
	if got := decode[repliesResponse](t, rr); len(got.Comments) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(got.Comments))
	}

	params := map[string]string{"comment_id": root.ID}
	rr = serve(UpdateComment(svc, log), setupReq(http.MethodPut, "/comments/"+root.ID, `{"content":"edited"}`, params, "user-b"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-owner update: expected 403, got %d", rr.Code)
	}
	rr = serve(UpdateComment(svc, log), setupReq(http.MethodPut, "/comments/"+root.ID, `{"content":"edited"}`, params, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("owner update: expected 200, got %d", rr.Code)
	}
	if got := decode[commentResponse](t, rr).Comment.Content; got != "edited" {
		t.Fatalf("expected edited content, got %q", got)
	}

	rr = serve(DeleteComment(svc, log), setupReq(http.MethodDelete, "/comments/"+root.ID, "", params, "user-b"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete: expected 403, got %d", rr.Code)
	}
	rr = serve(DeleteComment(svc, log), setupReq(http.MethodDelete, "/comments/"+root.ID, "", params, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("owner delete: expected 200, got %d", rr.Code)
	}
	if got := decode[deleteCommentResponse](t, rr); got.Removed != 2 || got.Message == "" {
		t.Fatalf("unexpected delete response: %+v", got)
	}

	rr = serve(DeleteComment(svc, log), setupReq(http.MethodDelete, "/comments/"+root.ID, "", params, "user-a"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestCreateComment_Handler_TooLong(t *testing.T) {
	svc := newService()
	body, _ := json.Marshal(createCommentRequest{PostID: "p1", Content: strings.Repeat("x", engagement.MaxCommentLength+1)})
	rr := serve(CreateComment(svc, zap.NewNop()), setupReq(http.MethodPost, "/comments", string(body), nil, "user-a"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetThread_RequiresPostID(t *testing.T) {
	rr := serve(GetThread(newService(), zap.NewNop()), setupReq(http.MethodGet, "/comments", "", nil, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestActivityAndStats_Handlers(t *testing.T) {
	svc := newService()
	log := zap.NewNop()
	ctx := context.Background()

	if err := svc.UpsertPost(ctx, domain.Post{ID: "p1", Slug: "intro", Title: "Intro"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, _ = svc.ToggleLike(ctx, "user-a", domain.PostTarget("p1"), engagement.ActionLike)
	_, _ = svc.ToggleSave(ctx, "user-a", "p1", engagement.ActionSave)

	rr := serve(GetActivity(svc, log), setupReq(http.MethodGet, "/activity?limit=1", "", nil, "user-a"))
	if got := decode[activityResponse](t, rr); len(got.Activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(got.Activities))
	}

	rr = serve(GetUserStats(svc, log), setupReq(http.MethodGet, "/user-stats", "", nil, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	st := decode[domain.Stats](t, rr)
	if st.LikesGiven != 1 || st.PostsSaved != 1 || st.PostsLiked != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	rr = serve(GetUserStats(svc, log), setupReq(http.MethodGet, "/user-stats", "", nil, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous stats: expected 401, got %d", rr.Code)
	}
}

func TestSessionActivity_Handler(t *testing.T) {
	svc := newService()
	log := zap.NewNop()

	req := setupReq(http.MethodPost, "/likes", `{"post_id":"p1","action":"like"}`, nil, "user-a")
	req = req.WithContext(auth.WithSessionID(req.Context(), "tab-1"))
	_ = serve(ToggleLike(svc, log), req)

	get := setupReq(http.MethodGet, "/activity/session", "", nil, "user-a")
	get = get.WithContext(auth.WithSessionID(get.Context(), "tab-1"))
	rr := serve(GetSessionActivity(svc, log), get)
	got := decode[sessionActivityResponse](t, rr)
	if len(got.Entries) != 1 || got.Entries[0].Action != "like" {
		t.Fatalf("unexpected session entries: %+v", got.Entries)
	}

	// Another session of the same user sees nothing.
	other := setupReq(http.MethodGet, "/activity/session", "", nil, "user-a")
	other = other.WithContext(auth.WithSessionID(other.Context(), "tab-2"))
	if got := decode[sessionActivityResponse](t, serve(GetSessionActivity(svc, log), other)); len(got.Entries) != 0 {
		t.Fatalf("expected empty log for another session, got %+v", got.Entries)
	}
}

func makeToken(subject, role string) string {
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	return signed
}

func newRouter(svc *engagement.Service, limiter *RateLimiter) chi.Router {
	r := chi.NewRouter()
	Mount(r, Deps{Service: svc, Verifier: auth.JWTVerifier{Secret: testSecret}, Limiter: limiter})
	return r
}

func TestMount_AuthAndAdmin(t *testing.T) {
	r := newRouter(newService(), nil)

	req := httptest.NewRequest(http.MethodGet, "/user-stats", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/comments?post_id=p1", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected public thread read, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken("user-a", "user"))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken("root", "admin"))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/admin/posts/p1", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken("root", "admin"))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin post delete, got %d", rr.Code)
	}
}

func TestMount_WritesAreRateLimited(t *testing.T) {
	r := newRouter(newService(), NewRateLimiter(0.001, 2))
	token := "Bearer " + makeToken("user-a", "user")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/likes", strings.NewReader(`{"post_id":"p1"}`))
		req.Header.Set("Authorization", token)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	// Reads are not limited.
	req := httptest.NewRequest(http.MethodGet, "/likes?post_id=p1", nil)
	req.Header.Set("Authorization", token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected read to pass, got %d", rr.Code)
	}
}

func TestListSavedPosts_HugePage(t *testing.T) {
	svc := newService()
	_ = serve(ToggleSave(svc, zap.NewNop()), setupReq(http.MethodPost, "/saved-posts", `{"post_id":"p1","action":"save"}`, nil, "user-a"))

	rr := serve(ListSavedPosts(svc, zap.NewNop()), setupReq(http.MethodGet, "/saved-posts?page=4611686018427387904&limit=4", "", nil, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	page := decode[savedPostsResponse](t, rr)
	if page.Total != 1 || len(page.SavedPosts) != 0 {
		t.Fatalf("expected empty page with total 1, got %+v", page)
	}
}
