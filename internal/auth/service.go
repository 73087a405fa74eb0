// Package auth はWeChat OAuthによるログインフローと、セッション上の本人確認を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/repository"
)

// セッションキー
const (
	// LoginStateKey はログイン試行中のstateとリダイレクト先を保持するキー。
	LoginStateKey = "login_state"
	// OpenIDKey はログイン済みユーザーのWeChat openidを保持するキー。
	OpenIDKey = "wechat_openid"
)

// ログイン結果のメトリクスラベル
const (
	LoginResultSuccess       = "success"
	LoginResultInvalidState  = "invalid_state"
	LoginResultUpstreamError = "upstream_error"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL はstateを埋め込んだ認可URLを生成する。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (TokenResult, error)
}

// Session は認証フローが利用するセッション操作。
// *session.Session がこれを満たす。
type Session interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
	Take(ctx context.Context, key string, dest any) (bool, error)
	Regenerate(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// LoginRecorder はログイン結果を記録するメトリクスのインターフェース。
type LoginRecorder interface {
	RecordLogin(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// AllowedRedirectHosts が空でない場合、redirect_urlのホストはこのいずれかに一致する必要がある。
	AllowedRedirectHosts []string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	metrics  LoginRecorder
	config   ServiceConfig
	newState func() (string, error)
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	metrics LoginRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		metrics:  metrics,
		config:   config,
		newState: GenerateState,
	}
}

// ValidateRedirectURL はログイン・ログアウト後のリダイレクト先を検証する。
// 不正な場合はINVALID_REDIRECT_URLの*model.APIErrorを返す。
func (s *Service) ValidateRedirectURL(raw string) error {
	if err := s.validateRedirectURL(raw); err != nil {
		return model.NewInvalidRedirectURLError(err.Error())
	}
	return nil
}

// validateRedirectURL はリダイレクト先を検証する。
// http(s)の絶対URLのみを受け付け、許可ホストが設定されていればそれに限定する。
func (s *Service) validateRedirectURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("redirect_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect_url is not a valid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("redirect_url must be an absolute http(s) url")
	}
	if u.Host == "" {
		return fmt.Errorf("redirect_url must include a host")
	}
	if len(s.config.AllowedRedirectHosts) == 0 {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range s.config.AllowedRedirectHosts {
		if host == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("redirect_url host %q is not allowed", u.Hostname())
}

// BeginLogin は新しいstateを発行してセッションに保存し、WeChat認可URLを返す。
// ログイン済みの場合はstateを発行せず、redirectURLをそのまま返す。
// 既存のログイン試行は上書きされる。
func (s *Service) BeginLogin(ctx context.Context, sess Session, redirectURL string) (string, error) {
	if err := s.ValidateRedirectURL(redirectURL); err != nil {
		return "", err
	}

	if _, ok, err := s.RequireIdentity(ctx, sess); err != nil {
		return "", err
	} else if ok {
		return redirectURL, nil
	}

	state, err := s.newState()
	if err != nil {
		return "", fmt.Errorf("failed to generate login state: %w", err)
	}

	attempt := model.LoginAttempt{State: state, RedirectURL: redirectURL}
	if err := sess.Set(ctx, LoginStateKey, attempt); err != nil {
		return "", fmt.Errorf("failed to store login state: %w", err)
	}

	return s.oauth.AuthCodeURL(state), nil
}

// CompleteLogin はコールバックを処理し、ログイン後のリダイレクト先を返す。
// ログイン試行はstateの照合結果にかかわらず消費される。
func (s *Service) CompleteLogin(ctx context.Context, sess Session, code, state string) (string, error) {
	var attempt model.LoginAttempt
	ok, err := sess.Take(ctx, LoginStateKey, &attempt)
	if err != nil {
		return "", fmt.Errorf("failed to load login state: %w", err)
	}
	if !ok || attempt.State == "" || attempt.State != state {
		slog.Warn("login state mismatch", slog.Bool("attempt_found", ok))
		s.recordLogin(LoginResultInvalidState)
		return "", model.NewInvalidLoginStateError()
	}

	result, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("wechat token exchange failed", slog.String("error", err.Error()))
		s.recordLogin(LoginResultUpstreamError)
		return "", fmt.Errorf("failed to exchange code: %w: %w", model.NewUpstreamIdentityError(), err)
	}

	var openID string
	switch r := result.(type) {
	case TokenSuccess:
		openID = r.OpenID
	case TokenFailure:
		slog.Warn("wechat rejected authorization code",
			slog.Int64("errcode", r.ErrCode),
			slog.String("errmsg", r.ErrMsg),
		)
		s.recordLogin(LoginResultUpstreamError)
		return "", fmt.Errorf("wechat rejected code: %w: %w", model.NewUpstreamIdentityError(), r)
	default:
		s.recordLogin(LoginResultUpstreamError)
		return "", fmt.Errorf("unexpected token result %T: %w", result, model.NewUpstreamIdentityError())
	}

	if _, err := s.userRepo.Upsert(ctx, openID); err != nil {
		return "", fmt.Errorf("failed to upsert user: %w", err)
	}

	// ログイン前のCookieを認証済みセッションとして使わせない
	if err := sess.Regenerate(ctx); err != nil {
		return "", err
	}
	if err := sess.Set(ctx, OpenIDKey, openID); err != nil {
		return "", fmt.Errorf("failed to store identity: %w", err)
	}

	slog.Info("user logged in", slog.String("open_id", openID))
	s.recordLogin(LoginResultSuccess)
	return attempt.RedirectURL, nil
}

// RequireIdentity はセッションからログイン済みのopenidを取得する。
// 未ログインの場合はfalseを返す。
func (s *Service) RequireIdentity(ctx context.Context, sess Session) (string, bool, error) {
	var openID string
	ok, err := sess.Get(ctx, OpenIDKey, &openID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read identity: %w", err)
	}
	if !ok || openID == "" {
		return "", false, nil
	}
	return openID, true, nil
}

// Logout はセッションを破棄する。本人情報と進行中のログイン試行はともに失われる。
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if err := sess.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

func (s *Service) recordLogin(result string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(result)
	}
}
