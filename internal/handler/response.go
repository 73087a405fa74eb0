// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/session"
)

// writeJSON はvをJSONとしてレスポンスに書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層のエラーを統一エラーレスポンスに変換する。
// 分類されていないエラーは詳細をログにのみ記録し、500を返す。
func handleServiceError(w http.ResponseWriter, err error, operation string, attrs ...any) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		args := append([]any{
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		}, attrs...)
		slog.Error("internal server error", args...)
	}
	middleware.WriteError(w, err)
}

// sessionOrFail はリクエストコンテキストからセッションを取得する。
// 取得できない場合は500を書き込みfalseを返す。
func sessionOrFail(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		slog.Error("session middleware is not installed",
			slog.String("path", r.URL.Path),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}
