package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/lib/pq"
)

// pgForeignKeyViolation はPostgreSQLの外部キー制約違反のSQLSTATE。
const pgForeignKeyViolation = "23503"

// PostgresDuckViewRepo はPostgreSQLを使用したアヒル閲覧記録リポジトリ。
type PostgresDuckViewRepo struct {
	db *sql.DB
}

// NewPostgresDuckViewRepo はPostgresDuckViewRepoを生成する。
func NewPostgresDuckViewRepo(db *sql.DB) *PostgresDuckViewRepo {
	return &PostgresDuckViewRepo{db: db}
}

// CreateIfAbsent は(user_id, duck_id)の主キーを利用したINSERT ON CONFLICTで閲覧記録を冪等に作成する。
// 既存の記録は更新しないため、初回閲覧時刻が保持される。
func (r *PostgresDuckViewRepo) CreateIfAbsent(ctx context.Context, userID, duckID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO duck_views (user_id, duck_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, duck_id) DO NOTHING`,
		userID, duckID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrDuckNotFound
		}
		return false, fmt.Errorf("閲覧記録の作成に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// ListByUser はユーザーの閲覧履歴を初回閲覧順に返す。履歴がない場合は空スライスを返す。
func (r *PostgresDuckViewRepo) ListByUser(ctx context.Context, userID string) ([]model.DuckView, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT v.created_at, `+duckColumns+`
		 FROM duck_views v
		 JOIN ducks d ON d.id = v.duck_id
		 LEFT JOIN locations l ON l.id = d.location_id
		 WHERE v.user_id = $1
		 ORDER BY v.created_at, v.duck_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("閲覧履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	views := []model.DuckView{}
	for rows.Next() {
		var view model.DuckView
		duck, err := scanDuck(rows, &view.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("閲覧履歴のスキャンに失敗しました: %w", err)
		}
		view.Duck = *duck
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("閲覧履歴の走査に失敗しました: %w", err)
	}

	return views, nil
}

// DeleteByUser はユーザーの閲覧履歴をすべて削除し、削除件数を返す。
func (r *PostgresDuckViewRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM duck_views WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("閲覧履歴の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

// isForeignKeyViolation はerrがPostgreSQLの外部キー制約違反かどうかを判定する。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgForeignKeyViolation
	}
	return false
}

// compile-time interface check
var _ DuckViewRepository = (*PostgresDuckViewRepo)(nil)
