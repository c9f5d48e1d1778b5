// Package plant は植物レコードの登録・参照・削除のドメインロジックを提供する。
// 登録時には埋め込み画像の識別と入力値のどちらを使うかを解決規則で決定し、
// 参照と削除では所有者を検証する。
package plant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitoshi/plantdex/internal/metrics"
	"github.com/hitoshi/plantdex/internal/model"
	"github.com/hitoshi/plantdex/internal/plantid"
	"github.com/hitoshi/plantdex/internal/repository"
)

// Service は植物レコードのサービス層。
type Service struct {
	plantRepo  repository.PlantRepository
	identifier plantid.Identifier
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。collectorはnilでもよい。
func NewService(
	plantRepo repository.PlantRepository,
	identifier plantid.Identifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		plantRepo:  plantRepo,
		identifier: identifier,
		metrics:    collector,
		logger:     logger,
	}
}

// List はユーザーの植物レコードを登録順で返す。
func (s *Service) List(ctx context.Context, userID int64) ([]model.Plant, error) {
	plants, err := s.plantRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("植物一覧の取得に失敗しました: %w", err)
	}
	return plants, nil
}

// Get は植物レコードを1件返す。
// 存在しない場合はPLANT_NOT_FOUND、他ユーザーの所有であればFORBIDDENを返す。
func (s *Service) Get(ctx context.Context, userID, plantID int64) (*model.Plant, error) {
	return s.findOwned(ctx, userID, plantID)
}

// Delete は植物レコードを削除する。存在確認と所有者検証はGetと同じ順序で行う。
func (s *Service) Delete(ctx context.Context, userID, plantID int64) error {
	if _, err := s.findOwned(ctx, userID, plantID); err != nil {
		return err
	}

	if err := s.plantRepo.Delete(ctx, plantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPlantNotFoundError(strconv.FormatInt(plantID, 10))
		}
		return fmt.Errorf("植物の削除に失敗しました: %w", err)
	}

	s.logger.Info("plant deleted",
		slog.Int64("user_id", userID),
		slog.Int64("plant_id", plantID),
	)
	return nil
}

// Submit は投稿内容から植物レコードを1件作成する。
// 埋め込み画像があれば識別APIを呼び出し、解決規則に従って保存フィールドを決める。
// 書き込みは成功時の1回だけで、失敗時には何も保存しない。
func (s *Service) Submit(ctx context.Context, userID int64, sub Submission) (*model.Plant, error) {
	key := decisionKey{
		embedded:   plantid.IsEmbeddedImage(sub.ImageURL),
		sufficient: sub.sufficient(),
	}

	var (
		ident    *model.Identification
		identErr error
	)
	if key.embedded {
		// 復号できない埋め込み画像は上流に送らず、識別失敗として扱う
		if _, err := plantid.StripDataURIPrefix(sub.ImageURL); err != nil {
			identErr = fmt.Errorf("%w: %w", plantid.ErrIdentificationFailed, err)
		} else {
			ident, identErr = s.identifier.Identify(ctx, sub.ImageURL)
		}
		key.identified = identErr == nil && ident != nil
	}

	resolution := decide(key)
	switch resolution {
	case ResolutionRejected:
		s.logger.Warn("plant identification failed without fallback fields",
			slog.Int64("user_id", userID),
			slog.String("error", errString(identErr)),
		)
		return nil, identificationError(identErr)
	case ResolutionFallback:
		s.logger.Warn("plant identification failed, using submitted fields",
			slog.Int64("user_id", userID),
			slog.String("error", errString(identErr)),
		)
	}

	plant, err := s.plantRepo.Create(ctx, userID, buildFields(resolution, sub, ident))
	if err != nil {
		return nil, fmt.Errorf("植物の登録に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPlantCreated(string(resolution))
	}
	s.logger.Info("plant created",
		slog.Int64("user_id", userID),
		slog.Int64("plant_id", plant.ID),
		slog.String("resolution", string(resolution)),
	)
	return plant, nil
}

// findOwned は存在確認の後に所有者を検証する。
func (s *Service) findOwned(ctx context.Context, userID, plantID int64) (*model.Plant, error) {
	plant, err := s.plantRepo.FindByID(ctx, plantID)
	if err != nil {
		return nil, fmt.Errorf("植物の取得に失敗しました: %w", err)
	}
	if plant == nil {
		return nil, model.NewPlantNotFoundError(strconv.FormatInt(plantID, 10))
	}
	if plant.UserID != userID {
		return nil, model.NewForbiddenError()
	}
	return plant, nil
}

// identificationError は識別の失敗を利用者向けのエラーに変換する。
// タイムアウトは専用のコードで返し、上流のメッセージがあれば添える。
func identificationError(err error) error {
	if errors.Is(err, plantid.ErrIdentificationTimeout) {
		return model.NewIdentificationTimeoutError()
	}

	var upstream *plantid.UpstreamError
	if errors.As(err, &upstream) {
		return model.NewIdentificationFailedError(upstream.Message)
	}
	if errors.Is(err, plantid.ErrInvalidDataURI) {
		return model.NewIdentificationFailedError("Invalid image data")
	}
	if errors.Is(err, plantid.ErrNoSuggestions) {
		return model.NewIdentificationFailedError("No plant matches found")
	}
	return model.NewIdentificationFailedError("")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
