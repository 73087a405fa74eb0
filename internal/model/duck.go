package model

import (
	"encoding/json"
	"time"
)

// Bilingual は英語・中国語の対訳テキスト。
type Bilingual struct {
	EN string `json:"en"`
	CN string `json:"cn"`
}

// Location は展示会場内の位置情報。
// coordinateはフロントエンドの地図描画用にそのままJSONで保持する。
type Location struct {
	ID          string          `json:"id"`
	Coordinate  json.RawMessage `json:"coordinate"`
	Description Bilingual       `json:"description"`
}

// LocationPreview は位置情報の公開用プロジェクション。
type LocationPreview struct {
	ID         string          `json:"id"`
	Coordinate json.RawMessage `json:"coordinate"`
}

// Duck は来場者が探すコンテンツ（アヒル）。
type Duck struct {
	ID          string      `json:"id"`
	Title       Bilingual   `json:"title"`
	Story       Bilingual   `json:"story"`
	Location    *Location   `json:"location"`
	Topics      []Bilingual `json:"topics"`
	DuckIconURL string      `json:"duckIconUrl"`
	IsHidden    bool        `json:"isHidden"`
}

// DuckPreview は未ログインでも閲覧できるアヒルの公開用プロジェクション。
type DuckPreview struct {
	ID       string           `json:"id"`
	Title    Bilingual        `json:"title"`
	Location *LocationPreview `json:"location"`
	Topics   []Bilingual      `json:"topics"`
	IsHidden bool             `json:"isHidden"`
}

// DuckView はユーザーとアヒルの閲覧記録。(user, duck) ごとに高々1件。
type DuckView struct {
	CreatedAt time.Time `json:"createdAt"`
	Duck      Duck      `json:"duck"`
}

// RankingData はfind-duckレスポンスに付与される順位。
type RankingData struct {
	Ranking int64 `json:"ranking"`
}

// UserInfo はユーザー情報と閲覧履歴を結合したレスポンス。
// Rankingは閲覧によって順位が付与されたリクエストでのみ設定される。
type UserInfo struct {
	User
	DuckHistory []DuckView   `json:"duckHistory"`
	Ranking     *RankingData `json:"ranking,omitempty"`
}
