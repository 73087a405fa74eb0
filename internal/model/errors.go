package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに返すのは分類済みの一般的なメッセージのみで、ストア内部の詳細は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, duck, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrCodeInvalidLoginState      = "INVALID_LOGIN_STATE"
	ErrCodeInvalidRedirectURL     = "INVALID_REDIRECT_URL"
	ErrCodeUpstreamIdentity       = "UPSTREAM_IDENTITY_ERROR"
	ErrCodeDuckNotFound           = "DUCK_NOT_FOUND"
	ErrCodeAdminTokenRequired     = "ADMIN_TOKEN_REQUIRED"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewAuthenticationRequiredError はセッションに認証済みIDがない場合のエラーを生成する。
func NewAuthenticationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationRequired,
		Message:  "please login first",
		Category: "auth",
		Action:   "Sign in with WeChat and retry.",
	}
}

// NewInvalidLoginStateError はログイン状態が存在しない、またはstateが一致しない場合のエラーを生成する。
func NewInvalidLoginStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLoginState,
		Message:  "invalid login state",
		Category: "auth",
		Action:   "Restart the login from the beginning.",
	}
}

// NewInvalidRedirectURLError はログイン後のリダイレクト先が不正な場合のエラーを生成する。
func NewInvalidRedirectURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRedirectURL,
		Message:  fmt.Sprintf("invalid redirect_url: %s", reason),
		Category: "validation",
		Action:   "Pass an absolute http(s) URL of this site as redirect_url.",
	}
}

// NewUpstreamIdentityError はIdPとの通信失敗、またはIdPが失敗レスポンスを返した場合のエラーを生成する。
// IdPのエラーコードやメッセージはログにのみ記録し、ここには含めない。
func NewUpstreamIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamIdentity,
		Message:  "authentication failed",
		Category: "auth",
		Action:   "Restart the login from the beginning.",
	}
}

// NewDuckNotFoundError は指定されたアヒルが存在しない場合のエラーを生成する。
func NewDuckNotFoundError(duckID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuckNotFound,
		Message:  fmt.Sprintf("duck not found: %s", duckID),
		Category: "duck",
		Action:   "Check the QR code and scan again.",
	}
}

// NewAdminTokenRequiredError は管理APIのトークンが無効な場合のエラーを生成する。
func NewAdminTokenRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAdminTokenRequired,
		Message:  "provide admin token",
		Category: "auth",
		Action:   "Send the admin token as a Bearer credential.",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "too many requests",
		Category: "system",
		Action:   "Wait and retry after the time given in Retry-After.",
	}
}

// NewInternalError は内部エラーの統一レスポンスを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// ErrCodeMissingParameter は必須のクエリパラメータが指定されていない場合のエラーコード。
const ErrCodeMissingParameter = "MISSING_PARAMETER"

// NewMissingParameterError は必須パラメータが不足している場合のエラーを生成する。
func NewMissingParameterError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingParameter,
		Message:  fmt.Sprintf("missing parameter: %s", name),
		Category: "validation",
		Action:   fmt.Sprintf("Specify %s and retry.", name),
	}
}
