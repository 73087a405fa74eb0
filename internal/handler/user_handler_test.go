package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/cyberduck/internal/model"
)

func TestUserHandler_GetUserInfo(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var gotOpenID string
	h := NewUserHandler(&mockUserService{
		userInfoFn: func(ctx context.Context, openID string) (*model.UserInfo, error) {
			gotOpenID = openID
			return &model.UserInfo{
				User: model.User{ID: "u-1", CreatedAt: created, WechatOpenID: openID},
				DuckHistory: []model.DuckView{
					{CreatedAt: created, Duck: model.Duck{ID: "duck-1", Title: model.Bilingual{EN: "Rubber", CN: "橡皮"}}},
				},
			}, nil
		},
	})

	rec := httptest.NewRecorder()
	h.GetUserInfo(rec, withOpenID(httptest.NewRequest(http.MethodGet, "/api/user-info", nil), "openid-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotOpenID != "openid-1" {
		t.Errorf("openID = %q, want %q", gotOpenID, "openid-1")
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["wechatOpenId"] != "openid-1" {
		t.Errorf("wechatOpenId = %v, want %q", body["wechatOpenId"], "openid-1")
	}
	history, ok := body["duckHistory"].([]any)
	if !ok || len(history) != 1 {
		t.Fatalf("duckHistory = %v, want 1 entry", body["duckHistory"])
	}
	if _, ok := body["ranking"]; ok {
		t.Error("ranking should be omitted from user-info")
	}
}

func TestUserHandler_GetUserInfo_NoIdentity_Returns401(t *testing.T) {
	h := NewUserHandler(&mockUserService{
		userInfoFn: func(ctx context.Context, openID string) (*model.UserInfo, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	})

	rec := httptest.NewRecorder()
	h.GetUserInfo(rec, httptest.NewRequest(http.MethodGet, "/api/user-info", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_GetUserInfo_StoreError_Returns500(t *testing.T) {
	h := NewUserHandler(&mockUserService{
		userInfoFn: func(ctx context.Context, openID string) (*model.UserInfo, error) {
			return nil, errors.New("pq: relation users does not exist")
		},
	})

	rec := httptest.NewRecorder()
	h.GetUserInfo(rec, withOpenID(httptest.NewRequest(http.MethodGet, "/api/user-info", nil), "openid-1"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
}

func TestUserHandler_ClearHistory(t *testing.T) {
	h := NewUserHandler(&mockUserService{
		clearHistoryFn: func(ctx context.Context, openID string) (int64, error) {
			if openID != "openid-7" {
				t.Errorf("openID = %q, want %q", openID, "openid-7")
			}
			return 4, nil
		},
	})

	rec := httptest.NewRecorder()
	h.ClearHistory(rec, withOpenID(httptest.NewRequest(http.MethodDelete, "/api/user-info", nil), "openid-7"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["number_of_records_removed"] != 4 {
		t.Errorf("number_of_records_removed = %d, want 4", body["number_of_records_removed"])
	}
}
