package duck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/repository"
	"github.com/hitoshi/cyberduck/internal/security"
)

// SeedFile は展示データの投入ファイルの形式。
type SeedFile struct {
	Locations []SeedLocation `json:"locations"`
	Ducks     []SeedDuck     `json:"ducks"`
}

// SeedLocation は投入ファイル内の位置情報。
type SeedLocation struct {
	ID          string          `json:"id"`
	Coordinate  json.RawMessage `json:"coordinate"`
	Description model.Bilingual `json:"description"`
}

// SeedDuck は投入ファイル内のアヒル。IDが空の場合は採番する。
type SeedDuck struct {
	ID          string            `json:"id"`
	Title       model.Bilingual   `json:"title"`
	Story       model.Bilingual   `json:"story"`
	LocationID  string            `json:"locationId"`
	Topics      []model.Bilingual `json:"topics"`
	DuckIconURL string            `json:"duckIconUrl"`
	IsHidden    bool              `json:"isHidden"`
}

// ImportResult は投入件数。
type ImportResult struct {
	Locations int
	Ducks     int
}

// Importer は展示データをサニタイズしてデータベースへ投入する。
type Importer struct {
	locationRepo repository.LocationRepository
	duckRepo     repository.DuckRepository
	sanitizer    security.ContentSanitizer
}

// NewImporter はImporterを生成する。
func NewImporter(
	locationRepo repository.LocationRepository,
	duckRepo repository.DuckRepository,
	sanitizer security.ContentSanitizer,
) *Importer {
	return &Importer{
		locationRepo: locationRepo,
		duckRepo:     duckRepo,
		sanitizer:    sanitizer,
	}
}

// Import はrからSeedFileを読み込み、位置情報、アヒルの順にIDをキーとしてupsertする。
// 存在しない位置情報を参照するアヒルがある場合は何も投入せずにエラーを返す。
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var seed SeedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	if err := validateSeed(&seed); err != nil {
		return nil, err
	}

	result := &ImportResult{}
	for _, l := range seed.Locations {
		loc := &model.Location{
			ID:          strings.TrimSpace(l.ID),
			Coordinate:  l.Coordinate,
			Description: security.SanitizeBilingual(l.Description, im.sanitizer.SanitizeRich),
		}
		if err := im.locationRepo.Upsert(ctx, loc); err != nil {
			return result, fmt.Errorf("failed to import location %s: %w", loc.ID, err)
		}
		result.Locations++
	}

	for _, sd := range seed.Ducks {
		d := im.toDuck(sd)
		if err := im.duckRepo.Upsert(ctx, d); err != nil {
			return result, fmt.Errorf("failed to import duck %s: %w", d.ID, err)
		}
		result.Ducks++
	}

	slog.Info("seed import completed",
		slog.Int("locations", result.Locations),
		slog.Int("ducks", result.Ducks),
	)
	return result, nil
}

// toDuck はSeedDuckをサニタイズ済みのmodel.Duckに変換する。
func (im *Importer) toDuck(sd SeedDuck) *model.Duck {
	id := strings.TrimSpace(sd.ID)
	if id == "" {
		id = uuid.NewString()
	}

	topics := make([]model.Bilingual, 0, len(sd.Topics))
	for _, t := range sd.Topics {
		topics = append(topics, security.SanitizeBilingual(t, im.sanitizer.SanitizePlain))
	}

	d := &model.Duck{
		ID:          id,
		Title:       security.SanitizeBilingual(sd.Title, im.sanitizer.SanitizePlain),
		Story:       security.SanitizeBilingual(sd.Story, im.sanitizer.SanitizeRich),
		Topics:      topics,
		DuckIconURL: strings.TrimSpace(sd.DuckIconURL),
		IsHidden:    sd.IsHidden,
	}
	if loc := strings.TrimSpace(sd.LocationID); loc != "" {
		d.Location = &model.Location{ID: loc}
	}
	return d
}

// validateSeed は投入前に参照整合性とIDの重複を検証する。
func validateSeed(seed *SeedFile) error {
	locations := make(map[string]bool, len(seed.Locations))
	for i, l := range seed.Locations {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			return fmt.Errorf("locations[%d]: id is required", i)
		}
		if locations[id] {
			return fmt.Errorf("locations[%d]: duplicate id %q", i, id)
		}
		locations[id] = true
	}

	ducks := make(map[string]bool, len(seed.Ducks))
	for i, d := range seed.Ducks {
		if id := strings.TrimSpace(d.ID); id != "" {
			if ducks[id] {
				return fmt.Errorf("ducks[%d]: duplicate id %q", i, id)
			}
			ducks[id] = true
		}
		if loc := strings.TrimSpace(d.LocationID); loc != "" && !locations[loc] {
			return fmt.Errorf("ducks[%d]: unknown locationId %q", i, loc)
		}
	}
	return nil
}
