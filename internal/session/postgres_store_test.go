package session

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/cyberduck/internal/database"
)

// openTestStore はTEST_DATABASE_URLのデータベースでPostgresStoreを返す。
// 未設定の場合はテストをスキップする。
func openTestStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE sessions`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}

	return NewPostgresStore(db, time.Hour), db
}

func expireSession(t *testing.T, db *sql.DB, sid string) {
	t.Helper()
	if _, err := db.Exec(`UPDATE sessions SET expires_at = now() - interval '1 second' WHERE id = $1`, sid); err != nil {
		t.Fatalf("有効期限の更新に失敗: %v", err)
	}
}

func TestPostgresStore_SetAndGet(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "sid", "login_state", []byte(`"nonce"`)); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := store.Set(ctx, "sid", "openid", []byte(`"o"`)); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	v, ok, err := store.Get(ctx, "sid", "login_state")
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want (true, nil)", ok, err)
	}
	if string(v) != `"nonce"` {
		t.Errorf("value = %s, want %s", v, `"nonce"`)
	}

	if _, ok, _ := store.Get(ctx, "sid", "missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestPostgresStore_Get_Expired(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "sid", "openid", []byte(`"o"`))
	expireSession(t, db, "sid")

	_, ok, err := store.Get(ctx, "sid", "openid")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("expected expired session to be absent")
	}
}

func TestPostgresStore_Set_AfterExpiry_DropsOldValues(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "sid", "openid", []byte(`"o"`))
	expireSession(t, db, "sid")

	if err := store.Set(ctx, "sid", "login_state", []byte(`"nonce"`)); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "sid", "openid"); ok {
		t.Error("expected value from expired session to be dropped")
	}
	if _, ok, _ := store.Get(ctx, "sid", "login_state"); !ok {
		t.Error("expected new value to be stored")
	}
}

func TestPostgresStore_Take_IsSingleUse(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "sid", "login_state", []byte(`"nonce"`))

	v, ok, err := store.Take(ctx, "sid", "login_state")
	if err != nil || !ok {
		t.Fatalf("first Take() = (%v, %v), want (true, nil)", ok, err)
	}
	if string(v) != `"nonce"` {
		t.Errorf("value = %s, want %s", v, `"nonce"`)
	}

	_, ok, err = store.Take(ctx, "sid", "login_state")
	if err != nil {
		t.Fatalf("second Take() error: %v", err)
	}
	if ok {
		t.Error("expected second Take to find nothing")
	}
}

func TestPostgresStore_ConcurrentTake_OnlyOneWins(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "sid", "login_state", []byte(`"nonce"`))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Take(ctx, "sid", "login_state")
			if err != nil {
				t.Errorf("Take() error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestPostgresStore_RenameAndDelete(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "old", "login_state", []byte(`"nonce"`))

	if err := store.Rename(ctx, "old", "new"); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "old", "login_state"); ok {
		t.Error("expected old session id to resolve to nothing")
	}
	if _, ok, _ := store.Get(ctx, "new", "login_state"); !ok {
		t.Error("expected value under new session id")
	}
	if err := store.Rename(ctx, "missing", "other"); err != nil {
		t.Errorf("Rename() of missing session error: %v", err)
	}

	if err := store.Delete(ctx, "new"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "new", "login_state"); ok {
		t.Error("expected session to be deleted")
	}
}
