package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/cyberduck/internal/model"
)

// duckColumns はアヒルと位置情報を結合して取得する際のカラム。
// scanDuckと順序を合わせること。
const duckColumns = `d.id, d.title, d.story, d.topics, d.duck_icon_url, d.is_hidden,
		        l.id, l.coordinate, l.description`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresDuckRepo はPostgreSQLを使用したアヒルリポジトリ。
type PostgresDuckRepo struct {
	db *sql.DB
}

// NewPostgresDuckRepo はPostgresDuckRepoを生成する。
func NewPostgresDuckRepo(db *sql.DB) *PostgresDuckRepo {
	return &PostgresDuckRepo{db: db}
}

// FindByID は指定IDのアヒルを取得する。見つからない場合はnilを返す。
func (r *PostgresDuckRepo) FindByID(ctx context.Context, id string) (*model.Duck, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+duckColumns+`
		 FROM ducks d LEFT JOIN locations l ON l.id = d.location_id
		 WHERE d.id = $1`,
		id,
	)

	duck, err := scanDuck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アヒルの取得に失敗しました: %w", err)
	}
	return duck, nil
}

// ListPreviews は全アヒルの公開用プロジェクションを登録順に返す。
func (r *PostgresDuckRepo) ListPreviews(ctx context.Context) ([]model.DuckPreview, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.title, d.topics, d.is_hidden, l.id, l.coordinate
		 FROM ducks d LEFT JOIN locations l ON l.id = d.location_id
		 ORDER BY d.created_at, d.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("アヒル一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	previews := []model.DuckPreview{}
	for rows.Next() {
		var p model.DuckPreview
		var title, topics, coordinate []byte
		var locationID sql.NullString

		if err := rows.Scan(&p.ID, &title, &topics, &p.IsHidden, &locationID, &coordinate); err != nil {
			return nil, fmt.Errorf("アヒル一覧のスキャンに失敗しました: %w", err)
		}
		if err := json.Unmarshal(title, &p.Title); err != nil {
			return nil, fmt.Errorf("failed to decode title of duck %s: %w", p.ID, err)
		}
		if err := json.Unmarshal(topics, &p.Topics); err != nil {
			return nil, fmt.Errorf("failed to decode topics of duck %s: %w", p.ID, err)
		}
		if locationID.Valid {
			p.Location = &model.LocationPreview{ID: locationID.String, Coordinate: json.RawMessage(coordinate)}
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アヒル一覧の走査に失敗しました: %w", err)
	}

	return previews, nil
}

// Upsert はIDをキーにアヒルを作成または更新する。
func (r *PostgresDuckRepo) Upsert(ctx context.Context, duck *model.Duck) error {
	title, err := json.Marshal(duck.Title)
	if err != nil {
		return fmt.Errorf("failed to encode title: %w", err)
	}
	story, err := json.Marshal(duck.Story)
	if err != nil {
		return fmt.Errorf("failed to encode story: %w", err)
	}
	topicList := duck.Topics
	if topicList == nil {
		topicList = []model.Bilingual{}
	}
	topics, err := json.Marshal(topicList)
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}

	var locationID sql.NullString
	if duck.Location != nil {
		locationID = nullString(duck.Location.ID)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ducks (id, title, story, location_id, topics, duck_icon_url, is_hidden)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     title = EXCLUDED.title,
		     story = EXCLUDED.story,
		     location_id = EXCLUDED.location_id,
		     topics = EXCLUDED.topics,
		     duck_icon_url = EXCLUDED.duck_icon_url,
		     is_hidden = EXCLUDED.is_hidden`,
		duck.ID, string(title), string(story), locationID, string(topics), duck.DuckIconURL, duck.IsHidden,
	)
	if err != nil {
		return fmt.Errorf("アヒルの保存に失敗しました: %w", err)
	}
	return nil
}

// scanDuck はduckColumnsの並びで1行を読み取る。headが指定された場合は先頭カラムとして読み取る。
func scanDuck(s rowScanner, head ...any) (*model.Duck, error) {
	duck := &model.Duck{}
	var title, story, topics, coordinate, description []byte
	var locationID sql.NullString

	dest := append(head,
		&duck.ID, &title, &story, &topics, &duck.DuckIconURL, &duck.IsHidden,
		&locationID, &coordinate, &description,
	)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(title, &duck.Title); err != nil {
		return nil, fmt.Errorf("failed to decode title of duck %s: %w", duck.ID, err)
	}
	if err := json.Unmarshal(story, &duck.Story); err != nil {
		return nil, fmt.Errorf("failed to decode story of duck %s: %w", duck.ID, err)
	}
	if err := json.Unmarshal(topics, &duck.Topics); err != nil {
		return nil, fmt.Errorf("failed to decode topics of duck %s: %w", duck.ID, err)
	}

	if locationID.Valid {
		loc := &model.Location{ID: locationID.String, Coordinate: json.RawMessage(coordinate)}
		if len(description) > 0 {
			if err := json.Unmarshal(description, &loc.Description); err != nil {
				return nil, fmt.Errorf("failed to decode description of location %s: %w", loc.ID, err)
			}
		}
		duck.Location = loc
	}

	return duck, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを生成する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// compile-time interface check
var _ DuckRepository = (*PostgresDuckRepo)(nil)
