package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UserInfo はユーザーを必要に応じて作成し、閲覧履歴とともに返す。
	UserInfo(ctx context.Context, openID string) (*model.UserInfo, error)
	// ClearHistory はユーザーの閲覧履歴を削除し、削除件数を返す。
	ClearHistory(ctx context.Context, openID string) (int64, error)
}

// UserHandler はログインユーザー自身の情報を扱うHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// clearHistoryResponse は閲覧履歴削除のレスポンス。
type clearHistoryResponse struct {
	NumberOfRecordsRemoved int64 `json:"number_of_records_removed"`
}

// GetUserInfo はユーザー情報と閲覧履歴を返す。
// GET /api/user-info
func (h *UserHandler) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	openID, err := middleware.OpenIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
		return
	}

	info, err := h.service.UserInfo(r.Context(), openID)
	if err != nil {
		handleServiceError(w, err, "user_info", slog.String("open_id", openID))
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// ClearHistory はユーザーの閲覧履歴を削除する。
// DELETE /api/user-info
func (h *UserHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	openID, err := middleware.OpenIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
		return
	}

	n, err := h.service.ClearHistory(r.Context(), openID)
	if err != nil {
		handleServiceError(w, err, "clear_history", slog.String("open_id", openID))
		return
	}

	writeJSON(w, http.StatusOK, clearHistoryResponse{NumberOfRecordsRemoved: n})
}
