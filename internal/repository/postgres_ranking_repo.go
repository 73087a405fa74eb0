package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/cyberduck/internal/model"
)

// PostgresRankingRepo はPostgreSQLを使用したマイルストーン順位リポジトリ。
// 順位はranking_seqシーケンスから採番するため、同時に閾値に達した別ユーザー同士で重複しない。
type PostgresRankingRepo struct {
	db *sql.DB
}

// NewPostgresRankingRepo はPostgresRankingRepoを生成する。
func NewPostgresRankingRepo(db *sql.DB) *PostgresRankingRepo {
	return &PostgresRankingRepo{db: db}
}

// AssignIfAbsent はユーザーに順位が未付与の場合のみ次の順位を付与する。
// NOT EXISTSで既存ユーザーのシーケンス消費を避け、同一ユーザーの同時付与はON CONFLICTで弾く。
// 競合で弾かれた場合に消費された番号は欠番となるが、順位の一意性と単調増加は保たれる。
func (r *PostgresRankingRepo) AssignIfAbsent(ctx context.Context, userID string) (int64, bool, error) {
	var ranking int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO rankings (user_id, ranking)
		 SELECT $1::uuid, nextval('ranking_seq')
		 WHERE NOT EXISTS (SELECT 1 FROM rankings WHERE user_id = $1::uuid)
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING ranking`,
		userID,
	).Scan(&ranking)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to assign ranking: %w", err)
	}
	return ranking, true, nil
}

// ListAll は付与済みの順位を順位順に返す。
func (r *PostgresRankingRepo) ListAll(ctx context.Context) ([]model.Ranking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.user_id, u.wechat_open_id, r.ranking, r.created_at
		 FROM rankings r JOIN users u ON u.id = r.user_id
		 ORDER BY r.ranking`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rankings: %w", err)
	}
	defer rows.Close()

	rankings := []model.Ranking{}
	for rows.Next() {
		var rk model.Ranking
		if err := rows.Scan(&rk.UserID, &rk.WechatOpenID, &rk.Ranking, &rk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		rankings = append(rankings, rk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rankings: %w", err)
	}

	return rankings, nil
}

// DeleteAll はすべての順位を削除し、次の付与が1位から始まるようにシーケンスをリセットする。
func (r *PostgresRankingRepo) DeleteAll(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 削除とリセットの間に付与が割り込まないよう、テーブルをロックする
	if _, err := tx.ExecContext(ctx, `LOCK TABLE rankings IN EXCLUSIVE MODE`); err != nil {
		return 0, fmt.Errorf("failed to lock rankings: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM rankings`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rankings: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `ALTER SEQUENCE ranking_seq RESTART WITH 1`); err != nil {
		return 0, fmt.Errorf("failed to reset ranking sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return deleted, nil
}

// compile-time interface check
var _ RankingRepository = (*PostgresRankingRepo)(nil)
