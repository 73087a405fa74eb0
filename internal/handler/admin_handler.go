package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cyberduck/internal/model"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	ListRankings(ctx context.Context) ([]model.Ranking, error)
	DeleteRankings(ctx context.Context) (int64, error)
	ClearHistory(ctx context.Context, openID string) (int64, error)
}

// AdminHandler は運営者向けの管理HTTPハンドラー。
// ルーター側で管理トークンのミドルウェアを通すこと。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type deleteRankingsResponse struct {
	NumberOfRankingsDeleted int64 `json:"number_of_rankings_deleted"`
}

type deleteDuckHistoryResponse struct {
	NumberOfDuckViewRecordsDeleted int64 `json:"number_of_duck_view_records_deleted"`
}

// ListRankings は付与済みの順位を順位の昇順で返す。
// GET /admin/rankings
func (h *AdminHandler) ListRankings(w http.ResponseWriter, r *http.Request) {
	rankings, err := h.service.ListRankings(r.Context())
	if err != nil {
		handleServiceError(w, err, "list_rankings")
		return
	}
	if rankings == nil {
		rankings = []model.Ranking{}
	}

	writeJSON(w, http.StatusOK, rankings)
}

// DeleteRankings はすべての順位を削除し、採番をリセットする。
// DELETE /admin/rankings
func (h *AdminHandler) DeleteRankings(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.DeleteRankings(r.Context())
	if err != nil {
		handleServiceError(w, err, "delete_rankings")
		return
	}

	writeJSON(w, http.StatusOK, deleteRankingsResponse{NumberOfRankingsDeleted: n})
}

// DeleteDuckHistory は指定ユーザーの閲覧履歴を削除する。
// DELETE /admin/duck-history/dangerous?user_id=<openid>
func (h *AdminHandler) DeleteDuckHistory(w http.ResponseWriter, r *http.Request) {
	openID := r.URL.Query().Get("user_id")
	if openID == "" {
		handleServiceError(w, model.NewMissingParameterError("user_id"), "delete_duck_history")
		return
	}

	n, err := h.service.ClearHistory(r.Context(), openID)
	if err != nil {
		handleServiceError(w, err, "delete_duck_history", slog.String("open_id", openID))
		return
	}

	slog.Warn("duck history deleted by admin",
		slog.String("open_id", openID),
		slog.Int64("count", n),
	)
	writeJSON(w, http.StatusOK, deleteDuckHistoryResponse{NumberOfDuckViewRecordsDeleted: n})
}
