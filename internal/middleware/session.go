// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cyberduck/internal/auth"
	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey = contextKey("session")
	openIDContextKey  = contextKey("open_id")
)

// CookieCodec はセッションCookieの発行と検証に必要なインターフェース。
// session.CookieCodecの部分集合として定義する。
type CookieCodec interface {
	Name() string
	Encode(sid string) (*http.Cookie, error)
	Decode(value string) (string, error)
	Clear() *http.Cookie
}

// NewSessionMiddleware はCookieからセッションIDを復元し、
// リクエスト単位のセッションハンドルをコンテキストに注入するミドルウェアを返す。
// Cookieがない、または改ざん・期限切れの場合はIDなしのハンドルを注入する。
// ハンドルへの最初の書き込みとID再発行の時に新しいセッションCookieを発行し、
// 破棄された場合はCookieを削除する。
func NewSessionMiddleware(store session.Store, codec CookieCodec) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sid string
			if cookie, err := r.Cookie(codec.Name()); err == nil {
				sid, err = codec.Decode(cookie.Value)
				if err != nil {
					slog.Debug("discarding session cookie",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					sid = ""
				}
			}

			sess := session.New(store, sid, func(id string) error {
				cookie, err := codec.Encode(id)
				if err != nil {
					return err
				}
				http.SetCookie(w, cookie)
				return nil
			})
			sess.OnDestroy(func() {
				http.SetCookie(w, codec.Clear())
			})

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションハンドルを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*session.Session, error) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	if !ok || sess == nil {
		return nil, errors.New("session not found in context")
	}
	return sess, nil
}

// ContextWithSession はコンテキストにセッションハンドルを注入する。
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// IdentityGate はセッションから認証済みIDを読み出すインターフェース。
// auth.Serviceが実装する。
type IdentityGate interface {
	RequireIdentity(ctx context.Context, sess auth.Session) (string, bool, error)
}

// NewRequireIdentityMiddleware はセッションに認証済みIDがあることを要求するミドルウェアを返す。
// IDがない場合は401を返し、後続のハンドラーを呼び出さない。
// 認証済みのopen_idをリクエストコンテキストに注入する。
func NewRequireIdentityMiddleware(gate IdentityGate) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := SessionFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
				return
			}

			openID, ok, err := gate.RequireIdentity(r.Context(), sess)
			if err != nil {
				slog.Error("failed to read identity from session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
				return
			}

			annotateOpenID(r.Context(), openID)
			next.ServeHTTP(w, r.WithContext(ContextWithOpenID(r.Context(), openID)))
		})
	}
}

// OpenIDFromContext はリクエストコンテキストから認証済みのopen_idを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func OpenIDFromContext(ctx context.Context) (string, error) {
	openID, ok := ctx.Value(openIDContextKey).(string)
	if !ok || openID == "" {
		return "", fmt.Errorf("open_id not found in context")
	}
	return openID, nil
}

// ContextWithOpenID はコンテキストにopen_idを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithOpenID(ctx context.Context, openID string) context.Context {
	return context.WithValue(ctx, openIDContextKey, openID)
}

// compile-time interface check
var _ CookieCodec = (*session.CookieCodec)(nil)
