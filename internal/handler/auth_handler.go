package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cyberduck/internal/auth"
	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, sess auth.Session, redirectURL string) (string, error)
	CompleteLogin(ctx context.Context, sess auth.Session, code, state string) (string, error)
	Logout(ctx context.Context, sess auth.Session) error
	ValidateRedirectURL(raw string) error
}

// AuthHandler はWeChatログインフローのHTTPハンドラー。
// ブラウザが直接遷移するルートなので、エラーはプレーンテキストで返す。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Login はWeChat OAuthフローを開始する。
// GET /login?redirect_url=xxx
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOrFail(w, r)
	if !ok {
		return
	}

	target, err := h.service.BeginLogin(r.Context(), sess, r.URL.Query().Get("redirect_url"))
	if err != nil {
		writeLoginError(w, r, "begin_login", err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// Callback はWeChat OAuthコールバックを処理する。
// GET <WECHAT_REDIRECT_URLのパス>?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOrFail(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	target, err := h.service.CompleteLogin(r.Context(), sess, query.Get("code"), query.Get("state"))
	if err != nil {
		writeLoginError(w, r, "complete_login", err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// Logout はセッションを破棄し、セッションCookieを削除する。
// redirect_urlが指定されていればそこへ、なければ204を返す。
// POST /logout?redirect_url=xxx
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOrFail(w, r)
	if !ok {
		return
	}

	redirectURL := r.URL.Query().Get("redirect_url")
	if redirectURL != "" {
		if err := h.service.ValidateRedirectURL(redirectURL); err != nil {
			writeLoginError(w, r, "logout", err)
			return
		}
	}

	if err := h.service.Logout(r.Context(), sess); err != nil {
		writeLoginError(w, r, "logout", err)
		return
	}

	if redirectURL == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

// writeLoginError はログインフローのエラーをプレーンテキストで書き込む。
func writeLoginError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := middleware.StatusCodeFor(apiErr)
		if status >= http.StatusInternalServerError {
			slog.Error("login flow failed",
				slog.String("operation", operation),
				slog.String("error", err.Error()),
			)
		}
		http.Error(w, apiErr.Message, status)
		return
	}

	slog.Error("login flow failed",
		slog.String("operation", operation),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// compile-time interface check
var _ AuthServiceInterface = (*auth.Service)(nil)
