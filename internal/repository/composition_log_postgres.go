package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// Compile-time check
var _ CompositionLogRepository = (*pgCompositionLogRepository)(nil)

const (
	appendHealingActionQuery = `
        INSERT INTO healing_actions (id, session_id, segment_id, strategy, attempt, before_asset_id, after_asset_id, severity, note, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	listHealingActionsQuery = `
        SELECT id, session_id, segment_id, strategy, attempt, before_asset_id, after_asset_id, severity, note, created_at
        FROM healing_actions WHERE session_id = $1 ORDER BY created_at, attempt
    `
	saveSummaryQuery = `
        INSERT INTO composition_summaries (session_id, segments_total, segments_succeeded, segments_failed, total_cost_usd, duration_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (session_id) DO UPDATE SET
            segments_total = EXCLUDED.segments_total,
            segments_succeeded = EXCLUDED.segments_succeeded,
            segments_failed = EXCLUDED.segments_failed,
            total_cost_usd = EXCLUDED.total_cost_usd,
            duration_ms = EXCLUDED.duration_ms
    `
	getSummaryQuery = `
        SELECT session_id, segments_total, segments_succeeded, segments_failed, total_cost_usd, duration_ms, created_at
        FROM composition_summaries WHERE session_id = $1
    `
)

// pgCompositionLogRepository реализует CompositionLogRepository для PostgreSQL.
// Журнал композиции - пользовательский артефакт, доступный после завершения прогона.
type pgCompositionLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgCompositionLogRepository создает новый экземпляр репозитория журнала композиции.
func NewPgCompositionLogRepository(db *pgxpool.Pool, logger *zap.Logger) CompositionLogRepository {
	return &pgCompositionLogRepository{db: db, logger: logger.Named("PgCompositionLogRepo")}
}

// AppendAction добавляет запись о действии лечения.
func (r *pgCompositionLogRepository) AppendAction(ctx context.Context, action *models.HealingAction) error {
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, appendHealingActionQuery,
		action.ID, action.SessionID, action.SegmentID, action.Strategy, action.Attempt,
		action.BeforeAssetID, action.AfterAssetID, action.Severity, action.Note, action.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append healing action",
			zap.String("sessionID", action.SessionID.String()),
			zap.String("strategy", string(action.Strategy)), zap.Error(err))
		return fmt.Errorf("ошибка записи действия лечения для сессии %s: %w", action.SessionID, err)
	}
	return nil
}

// ListActions возвращает действия лечения сессии в порядке их выполнения.
func (r *pgCompositionLogRepository) ListActions(ctx context.Context, sessionID uuid.UUID) ([]*models.HealingAction, error) {
	var actions []*models.HealingAction
	err := pgxscan.Select(ctx, r.db, &actions, listHealingActionsQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала лечения сессии %s: %w", sessionID, err)
	}
	return actions, nil
}

// SaveSummary сохраняет терминальную сводку журнала композиции.
func (r *pgCompositionLogRepository) SaveSummary(ctx context.Context, summary *models.CompositionSummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	summary.DurationMs = summary.Duration.Milliseconds()

	_, err := r.db.Exec(ctx, saveSummaryQuery,
		summary.SessionID, summary.SegmentsTotal, summary.SegmentsSucceeded, summary.SegmentsFailed,
		summary.TotalCostUSD, summary.DurationMs, summary.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save composition summary",
			zap.String("sessionID", summary.SessionID.String()), zap.Error(err))
		return fmt.Errorf("ошибка сохранения сводки композиции сессии %s: %w", summary.SessionID, err)
	}
	return nil
}

// GetSummary возвращает сводку композиции, если она уже записана.
func (r *pgCompositionLogRepository) GetSummary(ctx context.Context, sessionID uuid.UUID) (*models.CompositionSummary, error) {
	var summary models.CompositionSummary
	err := pgxscan.Get(ctx, r.db, &summary, getSummaryQuery, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сводки композиции сессии %s: %w", sessionID, err)
	}
	summary.Duration = time.Duration(summary.DurationMs) * time.Millisecond
	return &summary, nil
}
