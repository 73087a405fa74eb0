// Package duck はアヒル閲覧の記録とマイルストーン順位付与のドメインロジックを提供する。
package duck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/hitoshi/cyberduck/internal/repository"
)

// DefaultMilestoneThreshold は順位付与に必要な異なるアヒルの閲覧数の既定値。
const DefaultMilestoneThreshold = 10

// 閲覧種別のメトリクスラベル
const (
	ViewKindNew    = "new"
	ViewKindRepeat = "repeat"
)

// ViewRecorder は閲覧と順位付与を記録するメトリクスのインターフェース。
type ViewRecorder interface {
	RecordDuckView(kind string)
	RecordMilestoneAssigned()
}

// ViewOutcome はRecordViewの結果。
// Rankingはこの閲覧で順位が付与された場合のみ設定される。
type ViewOutcome struct {
	User    model.User
	History []model.DuckView
	Ranking *int64
	NewView bool
}

// UserInfo はレスポンス用のUserInfoに変換する。
func (o *ViewOutcome) UserInfo() *model.UserInfo {
	info := &model.UserInfo{User: o.User, DuckHistory: o.History}
	if o.Ranking != nil {
		info.Ranking = &model.RankingData{Ranking: *o.Ranking}
	}
	return info
}

// ServiceConfig はアヒルサービスの設定。
type ServiceConfig struct {
	MilestoneThreshold int
}

// Service はアヒル閲覧のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	duckRepo    repository.DuckRepository
	viewRepo    repository.DuckViewRepository
	rankingRepo repository.RankingRepository
	metrics     ViewRecorder
	threshold   int
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	duckRepo repository.DuckRepository,
	viewRepo repository.DuckViewRepository,
	rankingRepo repository.RankingRepository,
	metrics ViewRecorder,
	config ServiceConfig,
) *Service {
	threshold := config.MilestoneThreshold
	if threshold <= 0 {
		threshold = DefaultMilestoneThreshold
	}
	return &Service{
		userRepo:    userRepo,
		duckRepo:    duckRepo,
		viewRepo:    viewRepo,
		rankingRepo: rankingRepo,
		metrics:     metrics,
		threshold:   threshold,
	}
}

// RecordView はユーザーによるアヒルの閲覧を記録し、更新後の閲覧履歴を返す。
// 異なるアヒルの閲覧数がちょうど閾値に達した閲覧でのみ、未付与のユーザーに順位を付与する。
// 順位付与に失敗した場合もエラーを返すが、閲覧記録は取り消さない。
func (s *Service) RecordView(ctx context.Context, openID, duckID string) (*ViewOutcome, error) {
	user, err := s.userRepo.Upsert(ctx, openID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	d, err := s.duckRepo.FindByID(ctx, duckID)
	if err != nil {
		return nil, fmt.Errorf("アヒルの取得に失敗しました: %w", err)
	}
	if d == nil {
		return nil, model.NewDuckNotFoundError(duckID)
	}

	created, err := s.viewRepo.CreateIfAbsent(ctx, user.ID, duckID)
	if errors.Is(err, repository.ErrDuckNotFound) {
		// 存在確認の後に削除された場合
		return nil, model.NewDuckNotFoundError(duckID)
	}
	if err != nil {
		return nil, fmt.Errorf("閲覧記録の作成に失敗しました: %w", err)
	}
	s.recordView(created)

	history, err := s.viewRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("閲覧履歴の取得に失敗しました: %w", err)
	}

	outcome := &ViewOutcome{User: *user, History: history, NewView: created}

	if len(history) != s.threshold {
		return outcome, nil
	}

	ranking, assigned, err := s.rankingRepo.AssignIfAbsent(ctx, user.ID)
	if err != nil {
		slog.Error("ranking assignment failed after view was recorded",
			slog.String("open_id", openID),
			slog.String("duck_id", duckID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("順位の付与に失敗しました: %w", err)
	}
	if assigned {
		outcome.Ranking = &ranking
		if s.metrics != nil {
			s.metrics.RecordMilestoneAssigned()
		}
		slog.Info("milestone ranking assigned",
			slog.String("open_id", openID),
			slog.Int64("ranking", ranking),
		)
	}

	return outcome, nil
}

// UserInfo はユーザーを冪等に作成し、閲覧履歴とあわせて返す。
func (s *Service) UserInfo(ctx context.Context, openID string) (*model.UserInfo, error) {
	user, err := s.userRepo.Upsert(ctx, openID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	history, err := s.viewRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("閲覧履歴の取得に失敗しました: %w", err)
	}

	return &model.UserInfo{User: *user, DuckHistory: history}, nil
}

// ClearHistory はユーザーの閲覧履歴を削除し、削除件数を返す。
// 付与済みの順位は削除しない。ユーザーが存在しない場合は0を返す。
func (s *Service) ClearHistory(ctx context.Context, openID string) (int64, error) {
	user, err := s.userRepo.FindByOpenID(ctx, openID)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return 0, nil
	}

	deleted, err := s.viewRepo.DeleteByUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("閲覧履歴の削除に失敗しました: %w", err)
	}

	slog.Info("duck history cleared",
		slog.String("open_id", openID),
		slog.Int64("deleted_count", deleted),
	)
	return deleted, nil
}

// PreviewDucks は全アヒルの公開用プロジェクションを返す。
func (s *Service) PreviewDucks(ctx context.Context) ([]model.DuckPreview, error) {
	previews, err := s.duckRepo.ListPreviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("アヒル一覧の取得に失敗しました: %w", err)
	}
	return previews, nil
}

// ListRankings は付与済みの順位を順位順に返す。
func (s *Service) ListRankings(ctx context.Context) ([]model.Ranking, error) {
	rankings, err := s.rankingRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("順位一覧の取得に失敗しました: %w", err)
	}
	return rankings, nil
}

// DeleteRankings はすべての順位を削除し、削除件数を返す。
func (s *Service) DeleteRankings(ctx context.Context) (int64, error) {
	deleted, err := s.rankingRepo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("順位の削除に失敗しました: %w", err)
	}
	slog.Warn("all rankings deleted", slog.Int64("deleted_count", deleted))
	return deleted, nil
}

func (s *Service) recordView(created bool) {
	if s.metrics == nil {
		return
	}
	if created {
		s.metrics.RecordDuckView(ViewKindNew)
	} else {
		s.metrics.RecordDuckView(ViewKindRepeat)
	}
}
