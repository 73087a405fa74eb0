package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/cyberduck/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Upsert はopenidのユーザーを冪等に作成する。既存ユーザーのフィールドは変更しない。
// ON CONFLICT DO NOTHINGは既存行を返さないため、その場合は改めてSELECTする。
func (r *PostgresUserRepo) Upsert(ctx context.Context, openID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (wechat_open_id)
		 VALUES ($1)
		 ON CONFLICT (wechat_open_id) DO NOTHING
		 RETURNING id, created_at, wechat_open_id`,
		openID,
	).Scan(&user.ID, &user.CreatedAt, &user.WechatOpenID)

	if err == sql.ErrNoRows {
		existing, err := r.FindByOpenID(ctx, openID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("user %q vanished during upsert", openID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return user, nil
}

// FindByOpenID はopenidでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByOpenID(ctx context.Context, openID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at, wechat_open_id FROM users WHERE wechat_open_id = $1`,
		openID,
	).Scan(&user.ID, &user.CreatedAt, &user.WechatOpenID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by openid: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
