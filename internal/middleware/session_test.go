package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/cyberduck/internal/auth"
	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/session"
)

// --- モック定義 ---

// memStore はテスト用のインメモリsession.Store。
type memStore struct {
	mu    sync.Mutex
	data  map[string]map[string][]byte
	calls int
	err   error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, sid, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[sid][key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, sid, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.data[sid] == nil {
		m.data[sid] = make(map[string][]byte)
	}
	m.data[sid][key] = value
	return nil
}

func (m *memStore) Remove(ctx context.Context, sid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	delete(m.data[sid], key)
	return m.err
}

func (m *memStore) Take(ctx context.Context, sid, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[sid][key]
	delete(m.data[sid], key)
	return v, ok, nil
}

func (m *memStore) Rename(ctx context.Context, oldSID, newSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[oldSID]; ok {
		m.data[newSID] = v
		delete(m.data, oldSID)
	}
	return nil
}

func (m *memStore) Delete(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sid)
	return nil
}

func (m *memStore) put(sid, key string, value any) {
	raw, _ := json.Marshal(value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[sid] == nil {
		m.data[sid] = make(map[string][]byte)
	}
	m.data[sid][key] = raw
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// identityGateFunc はIdentityGateの関数アダプタ。
type identityGateFunc func(ctx context.Context, sess auth.Session) (string, bool, error)

func (f identityGateFunc) RequireIdentity(ctx context.Context, sess auth.Session) (string, bool, error) {
	return f(ctx, sess)
}

func newTestCodec(t *testing.T) *session.CookieCodec {
	t.Helper()
	codec, err := session.NewCookieCodec(bytes.Repeat([]byte{0x42}, session.SecretSize), session.CookieConfig{
		Name:   "cyberduck_session",
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewCookieCodec() error = %v", err)
	}
	return codec
}

func sessionCookie(t *testing.T, codec *session.CookieCodec, sid string) *http.Cookie {
	t.Helper()
	c, err := codec.Encode(sid)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return c
}

// --- テスト ---

func TestSessionMiddleware_ValidCookie_RestoresSessionID(t *testing.T) {
	codec := newTestCodec(t)
	mw := NewSessionMiddleware(newMemStore(), codec)

	var gotID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := SessionFromContext(r.Context())
		if err != nil {
			t.Fatalf("SessionFromContext() error = %v", err)
		}
		gotID = sess.ID()
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user-info", nil)
	req.AddCookie(sessionCookie(t, codec, "sid-123"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotID != "sid-123" {
		t.Errorf("session id = %q, want %q", gotID, "sid-123")
	}
}

func TestSessionMiddleware_NoCookie_InjectsEmptySession(t *testing.T) {
	codec := newTestCodec(t)
	mw := NewSessionMiddleware(newMemStore(), codec)

	var gotID = "unset"
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := SessionFromContext(r.Context())
		if err != nil {
			t.Fatalf("SessionFromContext() error = %v", err)
		}
		gotID = sess.ID()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if gotID != "" {
		t.Errorf("session id = %q, want empty", gotID)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("expected no cookie to be issued for a read-only request")
	}
}

func TestSessionMiddleware_TamperedCookie_TreatedAsNoSession(t *testing.T) {
	codec := newTestCodec(t)
	mw := NewSessionMiddleware(newMemStore(), codec)

	otherCodec, err := session.NewCookieCodec(bytes.Repeat([]byte{0x07}, session.SecretSize), session.CookieConfig{
		Name:   "cyberduck_session",
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewCookieCodec() error = %v", err)
	}

	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "not-a-cookie"},
		{"foreign key", sessionCookie(t, otherCodec, "sid-evil").Value},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID := "unset"
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sess, _ := SessionFromContext(r.Context())
				gotID = sess.ID()
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: "cyberduck_session", Value: tt.value})
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if gotID != "" {
				t.Errorf("session id = %q, want empty", gotID)
			}
		})
	}
}

func TestSessionMiddleware_FirstWrite_IssuesCookie(t *testing.T) {
	codec := newTestCodec(t)
	store := newMemStore()
	mw := NewSessionMiddleware(store, codec)

	var sid string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := SessionFromContext(r.Context())
		if err := sess.Set(r.Context(), "k", "v"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		sid = sess.ID()
		w.WriteHeader(http.StatusFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if cookies[0].Name != "cyberduck_session" {
		t.Errorf("cookie name = %q, want %q", cookies[0].Name, "cyberduck_session")
	}
	if !cookies[0].HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
	decoded, err := codec.Decode(cookies[0].Value)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded != sid {
		t.Errorf("cookie session id = %q, want %q", decoded, sid)
	}
	if _, ok := store.data[sid]["k"]; !ok {
		t.Error("expected value to be stored under the new session id")
	}
}

func TestSessionMiddleware_Destroy_ClearsCookie(t *testing.T) {
	codec := newTestCodec(t)
	store := newMemStore()
	store.put("sid-1", "openid", "o")
	mw := NewSessionMiddleware(store, codec)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := SessionFromContext(r.Context())
		if err := sess.Destroy(r.Context()); err != nil {
			t.Fatalf("Destroy() error = %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(sessionCookie(t, codec, "sid-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if cookies[0].MaxAge >= 0 {
		t.Errorf("cookie MaxAge = %d, want < 0", cookies[0].MaxAge)
	}
	if _, ok := store.data["sid-1"]; ok {
		t.Error("expected session to be deleted from store")
	}
}

func TestRequireIdentityMiddleware_Authenticated_InjectsOpenID(t *testing.T) {
	codec := newTestCodec(t)
	store := newMemStore()
	store.put("sid-1", auth.OpenIDKey, "openid-abc")

	gate := auth.NewService(nil, nil, nil, auth.ServiceConfig{})
	handler := NewSessionMiddleware(store, codec)(
		NewRequireIdentityMiddleware(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			openID, err := OpenIDFromContext(r.Context())
			if err != nil {
				t.Errorf("OpenIDFromContext() error = %v", err)
			}
			if openID != "openid-abc" {
				t.Errorf("openID = %q, want %q", openID, "openid-abc")
			}
			w.WriteHeader(http.StatusOK)
		})),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/user-info", nil)
	req.AddCookie(sessionCookie(t, codec, "sid-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireIdentityMiddleware_Unauthenticated_Returns401(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name      string
		cookieSID string
		wantCalls int
	}{
		{"no cookie", "", 0},
		{"session without identity", "sid-empty", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			gate := auth.NewService(nil, nil, nil, auth.ServiceConfig{})
			handler := NewSessionMiddleware(store, codec)(
				NewRequireIdentityMiddleware(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Fatal("handler should not be called")
				})),
			)

			req := httptest.NewRequest(http.MethodGet, "/api/user-info", nil)
			if tt.cookieSID != "" {
				req.AddCookie(sessionCookie(t, codec, tt.cookieSID))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != model.ErrCodeAuthenticationRequired {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAuthenticationRequired)
			}
			if body.Message != "please login first" {
				t.Errorf("message = %q, want %q", body.Message, "please login first")
			}
			if got := store.callCount(); got != tt.wantCalls {
				t.Errorf("store calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRequireIdentityMiddleware_StoreError_Returns500(t *testing.T) {
	gate := identityGateFunc(func(ctx context.Context, sess auth.Session) (string, bool, error) {
		return "", false, errors.New("redis: connection refused")
	})
	handler := NewRequireIdentityMiddleware(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user-info", nil)
	req = req.WithContext(ContextWithSession(req.Context(), session.New(newMemStore(), "sid", nil)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("redis")) {
		t.Errorf("response leaks store detail: %s", rec.Body.String())
	}
}

func TestRequireIdentityMiddleware_NoSessionInContext_Returns401(t *testing.T) {
	gate := identityGateFunc(func(ctx context.Context, sess auth.Session) (string, bool, error) {
		t.Fatal("gate should not be called")
		return "", false, nil
	})
	handler := NewRequireIdentityMiddleware(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user-info", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOpenIDFromContext_Missing(t *testing.T) {
	if _, err := OpenIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without open_id")
	}
	ctx := ContextWithOpenID(context.Background(), "openid-x")
	got, err := OpenIDFromContext(ctx)
	if err != nil || got != "openid-x" {
		t.Errorf("OpenIDFromContext() = %q, %v, want %q, nil", got, err, "openid-x")
	}
}

// --- compile-time interface checks ---

var (
	_ session.Store = (*memStore)(nil)
	_ IdentityGate  = identityGateFunc(nil)
	_ IdentityGate  = (*auth.Service)(nil)
)
