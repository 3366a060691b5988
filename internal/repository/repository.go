package repository

import (
	"context"

	"github.com/google/uuid"

	"eduvideo-server/internal/models"
)

// SessionRepository определяет операции хранения сессий.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// UpdateStage атомарно обновляет текущий этап и статус сессии.
	UpdateStage(ctx context.Context, id uuid.UUID, stage models.Stage, status models.SessionStatus) error
	// MarkFailed переводит сессию в failed с текстом ошибки.
	MarkFailed(ctx context.Context, id uuid.UUID, errorText string) error
	// MarkCompleted переводит сессию в completed и фиксирует финальный ассет.
	MarkCompleted(ctx context.Context, id uuid.UUID, finalAssetID uuid.UUID) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

// SegmentRepository определяет операции хранения сегментов сценария.
type SegmentRepository interface {
	CreateBatch(ctx context.Context, segments []*models.Segment) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Segment, error)
}

// AssetRepository определяет операции хранения ассетов.
// Ассеты никогда не удаляются: вытеснение пишет новую строку и ссылку superseded_by.
type AssetRepository interface {
	Create(ctx context.Context, asset *models.Asset) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Asset, error)
	ListBySegment(ctx context.Context, segmentID uuid.UUID, kind models.AssetKind) ([]*models.Asset, error)
	// UpdateStatus меняет статус ассета с проверкой допустимости перехода.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.AssetStatus) error
	// Supersede помечает old как substituted и связывает его с newID.
	Supersede(ctx context.Context, oldID, newID uuid.UUID) error
}

// ValidationRepository хранит неизменяемые результаты валидации.
type ValidationRepository interface {
	CreateBatch(ctx context.Context, results []*models.ValidationResult) error
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*models.ValidationResult, error)
}

// CostRepository хранит append-only журнал стоимости.
type CostRepository interface {
	Append(ctx context.Context, entry *models.CostEntry) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.CostEntry, error)
}

// CompositionLogRepository хранит журнал композиции: действия лечения и сводку.
type CompositionLogRepository interface {
	AppendAction(ctx context.Context, action *models.HealingAction) error
	ListActions(ctx context.Context, sessionID uuid.UUID) ([]*models.HealingAction, error)
	SaveSummary(ctx context.Context, summary *models.CompositionSummary) error
	GetSummary(ctx context.Context, sessionID uuid.UUID) (*models.CompositionSummary, error)
}
