package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/cyberduck/internal/model"
)

// PostgresLocationRepo はPostgreSQLを使用した位置情報リポジトリ。
type PostgresLocationRepo struct {
	db *sql.DB
}

// NewPostgresLocationRepo はPostgresLocationRepoを生成する。
func NewPostgresLocationRepo(db *sql.DB) *PostgresLocationRepo {
	return &PostgresLocationRepo{db: db}
}

// Upsert はIDをキーに位置情報を作成または更新する。
// coordinateが空の場合はJSONのnullとして保存する。
func (r *PostgresLocationRepo) Upsert(ctx context.Context, location *model.Location) error {
	coordinate := string(location.Coordinate)
	if coordinate == "" {
		coordinate = "null"
	}
	description, err := json.Marshal(location.Description)
	if err != nil {
		return fmt.Errorf("failed to encode description: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO locations (id, coordinate, description)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		     coordinate = EXCLUDED.coordinate,
		     description = EXCLUDED.description`,
		location.ID, coordinate, string(description),
	)
	if err != nil {
		return fmt.Errorf("位置情報の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LocationRepository = (*PostgresLocationRepo)(nil)
