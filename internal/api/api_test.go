package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/pinboard/internal/board"
	"github.com/starford/pinboard/internal/export"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/noteservice"
	"github.com/starford/pinboard/internal/testutil"
	"github.com/starford/pinboard/internal/workspace"
)

const (
	testSecret = "secret123"
	localUser  = "local"
)

// fakeStreamer records which user opened the event stream.
type fakeStreamer struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeStreamer) ServeUser(w http.ResponseWriter, _ *http.Request, user string) {
	f.mu.Lock()
	f.users = append(f.users, user)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
}

func (f *fakeStreamer) Users() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}

// testEnv builds a router over a temporary store. An empty secret disables
// auth and every request acts as localUser.
func testEnv(t *testing.T, secret string) (*noteservice.Service, http.Handler) {
	t.Helper()
	svc := testutil.TestService(t, nil)
	auth := NewAuthenticator(secret != "", secret, localUser)
	return svc, NewRouter(svc, auth, nil)
}

func call(t *testing.T, router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func createList(t *testing.T, router http.Handler, name string) models.List {
	t.Helper()
	w := call(t, router, http.MethodPost, "/lists", map[string]string{"name": name}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create list = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[models.List](t, w)
}

func createNote(t *testing.T, router http.Handler, listID, content string) models.Note {
	t.Helper()
	w := call(t, router, http.MethodPost, "/lists/"+listID+"/notes", map[string]string{"content": content}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create note = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[models.Note](t, w)
}

func TestCreateListAndNote(t *testing.T) {
	_, router := testEnv(t, "")

	l := createList(t, router, "Groceries")
	if l.ID == "" || l.Name != "Groceries" {
		t.Errorf("list = %+v", l)
	}
	n := createNote(t, router, l.ID, "milk")
	if n.ID == "" || n.Content != "milk" {
		t.Errorf("note = %+v", n)
	}

	w := call(t, router, http.MethodGet, "/board", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get board = %d", w.Code)
	}
	b := decode[board.Board](t, w)
	if len(b.Lists) != 1 || len(b.Lists[0].Notes) != 1 || b.Lists[0].Notes[0].Content != "milk" {
		t.Errorf("board = %+v", b)
	}
}

func TestCreateDefaults(t *testing.T) {
	_, router := testEnv(t, "")

	w := call(t, router, http.MethodPost, "/lists", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create list without body = %d, body = %s", w.Code, w.Body.String())
	}
	l := decode[models.List](t, w)
	if l.Name != "Untitled 1" {
		t.Errorf("default name = %q", l.Name)
	}

	w = call(t, router, http.MethodPost, "/lists/"+l.ID+"/notes", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create note without body = %d", w.Code)
	}
	if n := decode[models.Note](t, w); n.Content != "Click to Edit" {
		t.Errorf("default content = %q", n.Content)
	}
}

func TestCreateList_Validation(t *testing.T) {
	_, router := testEnv(t, "")

	w := call(t, router, http.MethodPost, "/lists", map[string]string{"name": strings.Repeat("x", maxNameLen+1)}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("long name = %d, want 400", w.Code)
	}
	w = call(t, router, http.MethodPost, "/lists", "{not json", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestUpdateList(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Todo")

	w := call(t, router, http.MethodPatch, "/lists/"+l.ID, map[string]any{"name": "Doing", "isEditable": true}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode[models.List](t, w)
	if got.Name != "Doing" || !got.IsEditable {
		t.Errorf("updated = %+v", got)
	}

	w = call(t, router, http.MethodPatch, "/lists/"+l.ID, map[string]any{"name": ""}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty name = %d, want 400", w.Code)
	}
	w = call(t, router, http.MethodPatch, "/lists/ghost", map[string]any{"name": "x"}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing list = %d, want 404", w.Code)
	}
}

func TestUpdateAndDeleteNote(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Todo")
	n := createNote(t, router, l.ID, "draft")

	w := call(t, router, http.MethodPatch, "/lists/"+l.ID+"/notes/"+n.ID, map[string]string{"content": "final"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("update note = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[models.Note](t, w); got.Content != "final" {
		t.Errorf("content = %q", got.Content)
	}

	w = call(t, router, http.MethodPatch, "/lists/"+l.ID+"/notes/ghost", map[string]string{"content": "x"}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing note = %d, want 404", w.Code)
	}

	w = call(t, router, http.MethodDelete, "/lists/"+l.ID+"/notes/"+n.ID, nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete note = %d, want 204", w.Code)
	}
	// Already gone is still a success.
	w = call(t, router, http.MethodDelete, "/lists/"+l.ID+"/notes/"+n.ID, nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete again = %d, want 204", w.Code)
	}
}

func TestDeleteList(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Old")
	createNote(t, router, l.ID, "a")

	w := call(t, router, http.MethodDelete, "/lists/"+l.ID, nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete list = %d, body = %s", w.Code, w.Body.String())
	}
	w = call(t, router, http.MethodDelete, "/lists/"+l.ID, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("delete again = %d, want 404", w.Code)
	}
	w = call(t, router, http.MethodGet, "/board", nil, "")
	if b := decode[board.Board](t, w); len(b.Lists) != 0 {
		t.Errorf("lists after delete = %d", len(b.Lists))
	}
}

func TestDrag(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Todo")
	first := createNote(t, router, l.ID, "first")
	createNote(t, router, l.ID, "second")

	w := call(t, router, http.MethodPost, "/drag", map[string]any{
		"source":      map[string]int{"list": 0, "index": 0},
		"destination": map[string]int{"list": 0, "index": 1},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("drag = %d, body = %s", w.Code, w.Body.String())
	}
	out := decode[workspace.DragOutcome](t, w)
	if !out.Moved || out.ID != first.ID || out.Index != 2 {
		t.Errorf("outcome = %+v", out)
	}

	w = call(t, router, http.MethodGet, "/board", nil, "")
	b := decode[board.Board](t, w)
	if got := b.Lists[0].Notes; len(got) != 2 || got[0].Content != "second" || got[1].Content != "first" {
		t.Errorf("notes after drag = %+v", got)
	}
}

func TestDrag_OutsideIsNoop(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Todo")
	createNote(t, router, l.ID, "only")

	w := call(t, router, http.MethodPost, "/drag", map[string]any{
		"source": map[string]int{"list": 0, "index": 0},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("drop outside = %d", w.Code)
	}
	if out := decode[workspace.DragOutcome](t, w); out.Moved {
		t.Errorf("outcome = %+v, want no move", out)
	}
}

func TestDrag_Errors(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Todo")
	createNote(t, router, l.ID, "only")

	w := call(t, router, http.MethodPost, "/drag", map[string]any{
		"source":      map[string]int{"list": 0, "index": 0},
		"destination": map[string]int{"list": 0, "index": 5},
	}, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("out of range = %d, want 422", w.Code)
	}

	w = call(t, router, http.MethodPost, "/drag", map[string]any{
		"source":      map[string]int{"list": 0, "index": -1},
		"destination": map[string]int{"list": 0, "index": 0},
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative index = %d, want 400", w.Code)
	}

	w = call(t, router, http.MethodPost, "/drag", map[string]any{
		"kind":   "card",
		"source": map[string]int{"list": 0, "index": 0},
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d, want 400", w.Code)
	}
}

func TestExportBoard(t *testing.T) {
	_, router := testEnv(t, "")
	l := createList(t, router, "Groceries")
	createNote(t, router, l.ID, "milk")

	w := call(t, router, http.MethodGet, "/board/export", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/yaml") {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.Bytes()
	if etag := w.Header().Get("ETag"); etag != `"`+export.Checksum(body)+`"` {
		t.Errorf("etag = %q", etag)
	}
	doc, err := export.Unmarshal(body)
	if err != nil {
		t.Fatal(err)
	}
	if doc.User != localUser || len(doc.Lists) != 1 || doc.Lists[0].Notes[0].Content != "milk" {
		t.Errorf("export = %+v", doc)
	}
}

func TestSaveExport(t *testing.T) {
	_, router := testEnv(t, "")
	createList(t, router, "Groceries")

	w := call(t, router, http.MethodPost, "/board/export", map[string]string{"path": "mine.yaml"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("save export = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[noteservice.ExportResult](t, w)
	if res.Path != localUser+"/mine.yaml" || len(res.Checksum) != 64 {
		t.Errorf("result = %+v", res)
	}
}

func TestSavedExport(t *testing.T) {
	_, router := testEnv(t, "")
	createList(t, router, "Groceries")

	w := call(t, router, http.MethodPost, "/board/export", map[string]string{"path": "mine.yaml"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("save export = %d", w.Code)
	}
	saved := decode[noteservice.ExportResult](t, w)

	w = call(t, router, http.MethodGet, "/board/exports/mine.yaml", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("read export = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("ETag"); got != `"`+saved.Checksum+`"` {
		t.Errorf("ETag = %s, want %q", got, saved.Checksum)
	}
	if !strings.Contains(w.Body.String(), "name: Groceries") {
		t.Errorf("body = %s", w.Body.String())
	}

	if w := call(t, router, http.MethodGet, "/board/exports/missing.yaml", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing export = %d, want 404", w.Code)
	}
}

func TestPathLikeSubjectRejected(t *testing.T) {
	_, router := testEnv(t, testSecret)
	token, err := IssueToken(testSecret, "../alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if w := call(t, router, http.MethodGet, "/board", nil, token); w.Code != http.StatusBadRequest {
		t.Errorf("board = %d, want 400", w.Code)
	}
	w := call(t, router, http.MethodPost, "/board/export", map[string]string{"path": "x.yaml"}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("save export = %d, want 400", w.Code)
	}
}

func TestEndSession(t *testing.T) {
	_, router := testEnv(t, "")
	createList(t, router, "Kept")

	w := call(t, router, http.MethodDelete, "/session", nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("end session = %d", w.Code)
	}

	// A new session reloads the board from the store.
	w = call(t, router, http.MethodGet, "/board", nil, "")
	if b := decode[board.Board](t, w); len(b.Lists) != 1 || b.Lists[0].Name != "Kept" {
		t.Errorf("board after sign-out = %+v", b)
	}
}

// Auth tests.

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, testSecret)
	token, err := IssueToken(testSecret, "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	w := call(t, router, http.MethodPost, "/lists", map[string]string{"name": "Mine"}, token)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, testSecret)

	w := call(t, router, http.MethodGet, "/board", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, testSecret)
	forged, err := IssueToken("other-secret", "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{"garbage": "wrong", "forged": forged} {
		w := call(t, router, http.MethodGet, "/board", nil, token)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s token = %d, want 401", name, w.Code)
		}
	}
}

func TestAuthMiddleware_ExpiredOrAnonymousToken(t *testing.T) {
	_, router := testEnv(t, testSecret)

	sign := func(claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	expired := sign(jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	anonymous := sign(jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(time.Now())})

	for name, token := range map[string]string{"expired": expired, "anonymous": anonymous} {
		w := call(t, router, http.MethodGet, "/board", nil, token)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s token = %d, want 401", name, w.Code)
		}
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := call(t, router, http.MethodGet, "/board", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_DisabledWithoutLocalUser(t *testing.T) {
	svc := testutil.TestService(t, nil)
	router := NewRouter(svc, NewAuthenticator(false, "", ""), nil)

	w := call(t, router, http.MethodGet, "/board", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no local user = %d, want 401", w.Code)
	}
}

func TestBoardsAreScopedByUser(t *testing.T) {
	_, router := testEnv(t, testSecret)
	alice, _ := IssueToken(testSecret, "alice", time.Hour)
	bob, _ := IssueToken(testSecret, "bob", time.Hour)

	w := call(t, router, http.MethodPost, "/lists", map[string]string{"name": "Private"}, alice)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	l := decode[models.List](t, w)

	w = call(t, router, http.MethodGet, "/board", nil, bob)
	if b := decode[board.Board](t, w); len(b.Lists) != 0 {
		t.Errorf("bob sees %d lists", len(b.Lists))
	}
	w = call(t, router, http.MethodDelete, "/lists/"+l.ID, nil, bob)
	if w.Code != http.StatusNotFound {
		t.Errorf("bob deleting alice's list = %d, want 404", w.Code)
	}
}

// SSE endpoint auth tests.

func testEnvWithEvents(t *testing.T, secret string) (http.Handler, *fakeStreamer) {
	t.Helper()
	svc := testutil.TestService(t, nil)
	events := &fakeStreamer{}
	return NewRouter(svc, NewAuthenticator(secret != "", secret, localUser), events), events
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router, events := testEnvWithEvents(t, testSecret)

	w := call(t, router, http.MethodGet, "/events", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
	if len(events.Users()) != 0 {
		t.Error("stream opened without auth")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router, events := testEnvWithEvents(t, testSecret)
	token, _ := IssueToken(testSecret, "alice", time.Hour)

	w := call(t, router, http.MethodGet, "/events", nil, token)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
	if got := events.Users(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("stream users = %v", got)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	router, events := testEnvWithEvents(t, "")

	call(t, router, http.MethodGet, "/events", nil, "")
	if got := events.Users(); len(got) != 1 || got[0] != localUser {
		t.Errorf("stream users = %v", got)
	}
}

func TestSSEEvents_NotMountedWithoutStreamer(t *testing.T) {
	_, router := testEnv(t, "")

	w := call(t, router, http.MethodGet, "/events", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("events without streamer = %d, want 404", w.Code)
	}
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	user, err := ParseToken(testSecret, token)
	if err != nil || user != "alice" {
		t.Errorf("ParseToken = %q, %v", user, err)
	}
	if _, err := IssueToken(testSecret, "", time.Hour); err == nil {
		t.Error("issued a token without a user")
	}
}
