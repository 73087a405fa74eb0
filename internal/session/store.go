// Package session はCookieに紐づくサーバーサイドセッションを提供する。
// セッションの内容はリモートのKVストア（Redis または PostgreSQL）に保持し、
// ブラウザには封印済みのセッションIDだけを渡す。
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store はセッションの値を保持するリモートKVストアのインターフェース。
// すべての操作はネットワーク往復を伴い、失敗しうる。
type Store interface {
	// Get はセッションsidのkeyの値を取得する。存在しない場合はfalseを返す。
	Get(ctx context.Context, sid, key string) ([]byte, bool, error)
	// Set はセッションsidのkeyに値を保存し、セッションの有効期限を延長する。
	Set(ctx context.Context, sid, key string, value []byte) error
	// Remove はセッションsidのkeyを削除する。存在しない場合も成功とする。
	Remove(ctx context.Context, sid, key string) error
	// Take はkeyの値を取得すると同時に削除する。
	// 同じ値を2つのリクエストが同時に取得することはない。
	Take(ctx context.Context, sid, key string) ([]byte, bool, error)
	// Rename はセッションoldSIDの値と有効期限をnewSIDへ移す。
	// oldSIDが存在しない場合は何もしない。移動後、oldSIDではどの値も取得できない。
	Rename(ctx context.Context, oldSID, newSID string) error
	// Delete はセッションsidを値ごと削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, sid string) error
}

// Session はリクエスト単位のセッションハンドル。
// 値はJSONでエンコードしてStoreに保存する。リクエストを越えて内容を保持しない。
type Session struct {
	id        string
	store     Store
	onCreate  func(id string) error
	onDestroy func()
}

// New はセッションハンドルを生成する。
// idが空の場合、最初のSetで新しいIDを採番しonCreateを呼び出す。
func New(store Store, id string, onCreate func(id string) error) *Session {
	return &Session{id: id, store: store, onCreate: onCreate}
}

// OnDestroy はDestroy時に呼び出す関数を登録する。Cookieの削除に使う。
func (s *Session) OnDestroy(fn func()) {
	s.onDestroy = fn
}

// ID はセッションIDを返す。未発行の場合は空文字を返す。
func (s *Session) ID() string {
	return s.id
}

// Get はkeyの値をdestにデコードする。値が存在しない場合はfalseを返す。
// セッションIDが未発行の場合はストアに問い合わせない。
func (s *Session) Get(ctx context.Context, key string, dest any) (bool, error) {
	if s.id == "" {
		return false, nil
	}
	raw, ok, err := s.store.Get(ctx, s.id, key)
	if err != nil {
		return false, fmt.Errorf("failed to read session key %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode session key %q: %w", key, err)
	}
	return true, nil
}

// Set はkeyにvalueを保存する。既存の値は上書きされる。
func (s *Session) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode session key %q: %w", key, err)
	}
	if s.id == "" {
		if err := s.allocate(); err != nil {
			return err
		}
	}
	if err := s.store.Set(ctx, s.id, key, raw); err != nil {
		return fmt.Errorf("failed to write session key %q: %w", key, err)
	}
	return nil
}

// Remove はkeyを削除する。
func (s *Session) Remove(ctx context.Context, key string) error {
	if s.id == "" {
		return nil
	}
	if err := s.store.Remove(ctx, s.id, key); err != nil {
		return fmt.Errorf("failed to remove session key %q: %w", key, err)
	}
	return nil
}

// Take はkeyの値をdestにデコードし、同時にセッションから削除する。
// デコードに失敗した場合も値は削除済みとなる。
func (s *Session) Take(ctx context.Context, key string, dest any) (bool, error) {
	if s.id == "" {
		return false, nil
	}
	raw, ok, err := s.store.Take(ctx, s.id, key)
	if err != nil {
		return false, fmt.Errorf("failed to take session key %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode session key %q: %w", key, err)
	}
	return true, nil
}

// Regenerate はセッションIDを新しく採番し、保存済みの値を新しいIDへ移す。
// 古いIDのCookieは以後どの値にも解決されない。権限が変わる時点（ログイン）で呼び出す。
func (s *Session) Regenerate(ctx context.Context) error {
	id := NewID()
	if s.id != "" {
		if err := s.store.Rename(ctx, s.id, id); err != nil {
			return fmt.Errorf("failed to regenerate session: %w", err)
		}
	}
	return s.issue(id)
}

// Destroy はセッションをストアから削除し、OnDestroyで登録された関数を呼び出す。
// 以後のハンドルはIDなしとして振る舞う。
func (s *Session) Destroy(ctx context.Context) error {
	if s.id != "" {
		if err := s.store.Delete(ctx, s.id); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		s.id = ""
	}
	if s.onDestroy != nil {
		s.onDestroy()
	}
	return nil
}

// allocate は新しいセッションIDを採番する。
func (s *Session) allocate() error {
	return s.issue(NewID())
}

// issue はidをこのハンドルのIDとし、Cookie発行のためにonCreateへ通知する。
func (s *Session) issue(id string) error {
	if s.onCreate != nil {
		if err := s.onCreate(id); err != nil {
			return fmt.Errorf("failed to issue session cookie: %w", err)
		}
	}
	s.id = id
	return nil
}

// NewID は推測困難なセッションIDを生成する。
// UUIDv4はcrypto/randから122ビットの乱数を得る。
func NewID() string {
	return uuid.NewString()
}
