package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/cyberduck/internal/auth"
	"github.com/hitoshi/cyberduck/internal/duck"
	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn    func(ctx context.Context, sess auth.Session, redirectURL string) (string, error)
	completeLoginFn func(ctx context.Context, sess auth.Session, code, state string) (string, error)
	logoutFn        func(ctx context.Context, sess auth.Session) error
	validateFn      func(raw string) error
}

func (m *mockAuthService) BeginLogin(ctx context.Context, sess auth.Session, redirectURL string) (string, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, sess, redirectURL)
	}
	return "", nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, sess auth.Session, code, state string) (string, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, sess, code, state)
	}
	return "", nil
}

func (m *mockAuthService) Logout(ctx context.Context, sess auth.Session) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sess)
	}
	return nil
}

func (m *mockAuthService) ValidateRedirectURL(raw string) error {
	if m.validateFn != nil {
		return m.validateFn(raw)
	}
	return nil
}

type mockUserService struct {
	userInfoFn     func(ctx context.Context, openID string) (*model.UserInfo, error)
	clearHistoryFn func(ctx context.Context, openID string) (int64, error)
}

func (m *mockUserService) UserInfo(ctx context.Context, openID string) (*model.UserInfo, error) {
	if m.userInfoFn != nil {
		return m.userInfoFn(ctx, openID)
	}
	return &model.UserInfo{}, nil
}

func (m *mockUserService) ClearHistory(ctx context.Context, openID string) (int64, error) {
	if m.clearHistoryFn != nil {
		return m.clearHistoryFn(ctx, openID)
	}
	return 0, nil
}

type mockDuckService struct {
	recordViewFn   func(ctx context.Context, openID, duckID string) (*duck.ViewOutcome, error)
	previewDucksFn func(ctx context.Context) ([]model.DuckPreview, error)
}

func (m *mockDuckService) RecordView(ctx context.Context, openID, duckID string) (*duck.ViewOutcome, error) {
	if m.recordViewFn != nil {
		return m.recordViewFn(ctx, openID, duckID)
	}
	return &duck.ViewOutcome{}, nil
}

func (m *mockDuckService) PreviewDucks(ctx context.Context) ([]model.DuckPreview, error) {
	if m.previewDucksFn != nil {
		return m.previewDucksFn(ctx)
	}
	return nil, nil
}

type mockAdminService struct {
	listRankingsFn   func(ctx context.Context) ([]model.Ranking, error)
	deleteRankingsFn func(ctx context.Context) (int64, error)
	clearHistoryFn   func(ctx context.Context, openID string) (int64, error)
}

func (m *mockAdminService) ListRankings(ctx context.Context) ([]model.Ranking, error) {
	if m.listRankingsFn != nil {
		return m.listRankingsFn(ctx)
	}
	return nil, nil
}

func (m *mockAdminService) DeleteRankings(ctx context.Context) (int64, error) {
	if m.deleteRankingsFn != nil {
		return m.deleteRankingsFn(ctx)
	}
	return 0, nil
}

func (m *mockAdminService) ClearHistory(ctx context.Context, openID string) (int64, error) {
	if m.clearHistoryFn != nil {
		return m.clearHistoryFn(ctx, openID)
	}
	return 0, nil
}

// memStore はテスト用のインメモリsession.Store。
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, sid, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[sid][key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, sid, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[sid] == nil {
		m.data[sid] = make(map[string][]byte)
	}
	m.data[sid][key] = value
	return nil
}

func (m *memStore) Remove(ctx context.Context, sid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[sid], key)
	return nil
}

func (m *memStore) Take(ctx context.Context, sid, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

// --- ヘルパー ---

// withSession はリクエストにIDなしのセッションハンドルを注入する。
func withSession(req *http.Request) *http.Request {
	sess := session.New(newMemStore(), "", nil)
	return req.WithContext(middleware.ContextWithSession(req.Context(), sess))
}

// withOpenID はリクエストに認証済みのopen_idを注入する。
func withOpenID(req *http.Request, openID string) *http.Request {
	return req.WithContext(middleware.ContextWithOpenID(req.Context(), openID))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- compile-time interface checks ---

var (
	_ AuthServiceInterface  = (*mockAuthService)(nil)
	_ UserServiceInterface  = (*mockUserService)(nil)
	_ DuckServiceInterface  = (*mockDuckService)(nil)
	_ AdminServiceInterface = (*mockAdminService)(nil)
	_ session.Store         = (*memStore)(nil)

	_ UserServiceInterface  = (*duck.Service)(nil)
	_ DuckServiceInterface  = (*duck.Service)(nil)
	_ AdminServiceInterface = (*duck.Service)(nil)
)
