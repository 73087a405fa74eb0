// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/cyberduck/internal/model"
)

// ErrDuckNotFound は参照されたアヒルが存在しない場合に返される。
var ErrDuckNotFound = errors.New("duck not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Upsert はopenidのユーザーを冪等に作成し、既存の場合はそのまま返す。
	Upsert(ctx context.Context, openID string) (*model.User, error)

	// FindByOpenID はopenidでユーザーを取得する。見つからない場合はnilを返す。
	FindByOpenID(ctx context.Context, openID string) (*model.User, error)
}

// LocationRepository は位置情報の永続化インターフェース。
type LocationRepository interface {
	// Upsert はIDをキーに位置情報を作成または更新する。
	Upsert(ctx context.Context, location *model.Location) error
}

// DuckRepository はアヒルデータの永続化インターフェース。
type DuckRepository interface {
	// FindByID は指定IDのアヒルを位置情報付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Duck, error)

	// ListPreviews は全アヒルの公開用プロジェクションを返す。
	ListPreviews(ctx context.Context) ([]model.DuckPreview, error)

	// Upsert はIDをキーにアヒルを作成または更新する。
	// duck.Locationが設定されている場合、そのIDで位置情報と関連付ける。
	Upsert(ctx context.Context, duck *model.Duck) error
}

// DuckViewRepository はアヒル閲覧記録の永続化インターフェース。
type DuckViewRepository interface {
	// CreateIfAbsent は(user, duck)の閲覧記録を冪等に作成する。
	// 新規作成した場合はtrueを返す。アヒルが存在しない場合はErrDuckNotFoundを返す。
	CreateIfAbsent(ctx context.Context, userID, duckID string) (bool, error)

	// ListByUser はユーザーの閲覧履歴を閲覧順に返す。
	ListByUser(ctx context.Context, userID string) ([]model.DuckView, error)

	// DeleteByUser はユーザーの閲覧履歴をすべて削除し、削除件数を返す。
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// RankingRepository はマイルストーン順位の永続化インターフェース。
type RankingRepository interface {
	// AssignIfAbsent はユーザーに順位が未付与の場合のみ、次の順位を付与する。
	// このコールで付与した場合のみ (順位, true) を返す。
	AssignIfAbsent(ctx context.Context, userID string) (int64, bool, error)

	// ListAll は付与済みの順位を順位順に返す。
	ListAll(ctx context.Context) ([]model.Ranking, error)

	// DeleteAll はすべての順位を削除して採番をリセットし、削除件数を返す。
	DeleteAll(ctx context.Context) (int64, error)
}
