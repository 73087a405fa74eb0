package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore はPostgreSQLのsessionsテーブルを使用するStore実装。
// REDIS_URLが未設定の環境で使用する。値はdataカラム（jsonb）にキーごとに保持する。
type PostgresStore struct {
	db     *sql.DB
	maxAge time.Duration
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB, maxAge time.Duration) *PostgresStore {
	return &PostgresStore{db: db, maxAge: maxAge}
}

// Get は有効期限内のセッションからkeyの値を取得する。
func (s *PostgresStore) Get(ctx context.Context, sid, key string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data -> $2::text FROM sessions WHERE id = $1 AND expires_at > now()`,
		sid, key,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find session: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	return raw, true, nil
}

// Set はkeyの値を保存し、有効期限を延長する。
// 期限切れの行が残っている場合は古い値を破棄してから書き込む。
func (s *PostgresStore) Set(ctx context.Context, sid, key string, value []byte) error {
	expiresAt := time.Now().Add(s.maxAge)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, data, expires_at, created_at)
		 VALUES ($1, jsonb_build_object($2::text, $3::jsonb), $4, now())
		 ON CONFLICT (id) DO UPDATE
		 SET data = CASE WHEN sessions.expires_at > now() THEN sessions.data ELSE '{}'::jsonb END || EXCLUDED.data,
		     expires_at = EXCLUDED.expires_at`,
		sid, key, string(value), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Remove はkeyを削除する。
func (s *PostgresStore) Remove(ctx context.Context, sid, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET data = data - $2::text WHERE id = $1`,
		sid, key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove session key: %w", err)
	}
	return nil
}

// Take は行ロックを取得した上でkeyの値を読み出し、同じトランザクションで削除する。
func (s *PostgresStore) Take(ctx context.Context, sid, key string) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data -> $2::text FROM sessions WHERE id = $1 AND expires_at > now() FOR UPDATE`,
		sid, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock session: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET data = data - $2::text WHERE id = $1`,
		sid, key,
	); err != nil {
		return nil, false, fmt.Errorf("failed to remove session key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return raw, true, nil
}

// Rename はセッション行のIDを置き換える。行がない場合は何もしない。
func (s *PostgresStore) Rename(ctx context.Context, oldSID, newSID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET id = $2 WHERE id = $1`,
		oldSID, newSID,
	)
	if err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return nil
}

// Delete はセッション行を削除する。
func (s *PostgresStore) Delete(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sid); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
