package auth

import "fmt"

// TokenResult はトークンエンドポイントの応答。
// TokenSuccess または TokenFailure のいずれか。
type TokenResult interface {
	tokenResult()
}

// TokenSuccess は認可コードの交換に成功した応答。
type TokenSuccess struct {
	AccessToken  string
	ExpiresIn    int64
	RefreshToken string
	OpenID       string
	Scope        string
}

// TokenFailure はWeChatがerrcodeで返した失敗応答。
type TokenFailure struct {
	ErrCode int64
	ErrMsg  string
}

func (TokenSuccess) tokenResult() {}
func (TokenFailure) tokenResult() {}

// Error はTokenFailureをerrorとして扱うための文字列表現を返す。
func (f TokenFailure) Error() string {
	return fmt.Sprintf("wechat errcode %d: %s", f.ErrCode, f.ErrMsg)
}
