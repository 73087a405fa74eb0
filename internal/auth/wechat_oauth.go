package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultWechatAuthURL  = "https://open.weixin.qq.com/connect/oauth2/authorize"
	defaultWechatTokenURL = "https://api.weixin.qq.com/sns/oauth2/access_token"

	// wechatScope はopenidのみを取得する最小スコープ。
	wechatScope = "snsapi_base"
	// wechatFragment はWeChatが認可URLに要求する固定フラグメント。
	wechatFragment = "wechat_redirect"

	// maxTokenResponseSize はトークンレスポンスとして読み込む上限バイト数。
	maxTokenResponseSize = 1 << 20
)

// WechatOAuthConfig はWeChat OAuthプロバイダーの設定。
type WechatOAuthConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string // コールバックURL（絶対URL）

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	HTTPClient *http.Client
}

// WechatOAuthProvider はWeChat公式アカウントのWebページ認可を提供する。
type WechatOAuthProvider struct {
	config WechatOAuthConfig
	client *http.Client
}

// NewWechatOAuthProvider はWechatOAuthProviderを生成する。
func NewWechatOAuthProvider(config WechatOAuthConfig) *WechatOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultWechatAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultWechatTokenURL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WechatOAuthProvider{config: config, client: client}
}

// AuthCodeURL はstateを埋め込んだ認可URLを生成する。
// WeChatはクエリパラメータの順序と#wechat_redirectフラグメントを要求する。
func (p *WechatOAuthProvider) AuthCodeURL(state string) string {
	u, err := url.Parse(p.config.AuthURL)
	if err != nil {
		// AuthURLは定数またはテスト用URLのため、ここに到達するのは設定ミスのみ
		panic(fmt.Sprintf("invalid wechat auth url %q: %v", p.config.AuthURL, err))
	}
	// url.Values.Encodeはキーをソートするため、順序を保って組み立てる
	u.RawQuery = "appid=" + url.QueryEscape(p.config.AppID) +
		"&redirect_uri=" + url.QueryEscape(p.config.RedirectURL) +
		"&response_type=code" +
		"&scope=" + wechatScope +
		"&state=" + url.QueryEscape(state)
	u.Fragment = wechatFragment
	return u.String()
}

// wechatTokenResponse は成功・失敗の両方の形を受け取るためのデコード用構造体。
type wechatTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"openid"`
	Scope        string `json:"scope"`

	ErrCode *int64 `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// ExchangeCode は認可コードをトークンエンドポイントに送り、結果を返す。
// 通信・デコードの失敗はerrorとして返し、WeChatの失敗レスポンスはTokenFailureとして返す。
func (p *WechatOAuthProvider) ExchangeCode(ctx context.Context, code string) (TokenResult, error) {
	u, err := url.Parse(p.config.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid token url: %w", err)
	}
	u.RawQuery = url.Values{
		"appid":      {p.config.AppID},
		"secret":     {p.config.AppSecret},
		"code":       {code},
		"grant_type": {"authorization_code"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	return parseTokenResponse(body)
}

// parseTokenResponse はトークンレスポンスを成功・失敗いずれかの形に振り分ける。
// errcodeが存在し0以外なら失敗、openidがあれば成功、どちらでもなければデコードエラー。
func parseTokenResponse(body []byte) (TokenResult, error) {
	var raw wechatTokenResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if raw.ErrCode != nil && *raw.ErrCode != 0 {
		return TokenFailure{ErrCode: *raw.ErrCode, ErrMsg: raw.ErrMsg}, nil
	}
	if raw.OpenID == "" {
		return nil, fmt.Errorf("token response has neither openid nor errcode")
	}

	return TokenSuccess{
		AccessToken:  raw.AccessToken,
		ExpiresIn:    raw.ExpiresIn,
		RefreshToken: raw.RefreshToken,
		OpenID:       raw.OpenID,
		Scope:        raw.Scope,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*WechatOAuthProvider)(nil)
