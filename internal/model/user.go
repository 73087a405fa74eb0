// Package model はドメインモデルを定義する。
package model

import "time"

// User はWeChatのopenidで識別される来場者を表す。
// 初回ログイン時または初回閲覧時に冪等に作成され、このサービスでは更新しない。
type User struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	WechatOpenID string    `json:"wechatOpenId"`
}

// LoginAttempt はログイン開始時にセッションへ保存する一時状態。
// コールバックで一度だけ読み出され、成否に関わらず削除される。
type LoginAttempt struct {
	State       string `json:"state"`
	RedirectURL string `json:"redirect_url"`
}

// Ranking はユーザーに一度だけ付与されるマイルストーン順位。
type Ranking struct {
	UserID       string    `json:"userId"`
	WechatOpenID string    `json:"wechatOpenId"`
	Ranking      int64     `json:"ranking"`
	CreatedAt    time.Time `json:"createdAt"`
}
