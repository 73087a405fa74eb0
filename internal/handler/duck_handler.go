package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/cyberduck/internal/duck"
	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/model"
)

// DuckServiceInterface はアヒルハンドラーが必要とするサービスインターフェース。
type DuckServiceInterface interface {
	RecordView(ctx context.Context, openID, duckID string) (*duck.ViewOutcome, error)
	PreviewDucks(ctx context.Context) ([]model.DuckPreview, error)
}

// DuckHandler はアヒルの発見と一覧のHTTPハンドラー。
type DuckHandler struct {
	service DuckServiceInterface
}

// NewDuckHandler はDuckHandlerを生成する。
func NewDuckHandler(service DuckServiceInterface) *DuckHandler {
	return &DuckHandler{service: service}
}

// FindDuck はアヒルの発見を記録し、更新後の閲覧履歴を返す。
// この閲覧で順位が付与された場合はrankingを含める。
// GET /api/find-duck/{id}
func (h *DuckHandler) FindDuck(w http.ResponseWriter, r *http.Request) {
	openID, err := middleware.OpenIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
		return
	}

	duckID := chi.URLParam(r, "id")
	if duckID == "" {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewDuckNotFoundError(duckID))
		return
	}

	outcome, err := h.service.RecordView(r.Context(), openID, duckID)
	if err != nil {
		handleServiceError(w, err, "record_view",
			slog.String("open_id", openID),
			slog.String("duck_id", duckID),
		)
		return
	}

	writeJSON(w, http.StatusOK, outcome.UserInfo())
}

// PreviewDucks は未ログインでも閲覧できるアヒルの一覧を返す。
// GET /api/preview-ducks
func (h *DuckHandler) PreviewDucks(w http.ResponseWriter, r *http.Request) {
	previews, err := h.service.PreviewDucks(r.Context())
	if err != nil {
		handleServiceError(w, err, "preview_ducks")
		return
	}
	if previews == nil {
		previews = []model.DuckPreview{}
	}

	writeJSON(w, http.StatusOK, previews)
}
