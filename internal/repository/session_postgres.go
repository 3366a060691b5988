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
var _ SessionRepository = (*pgSessionRepository)(nil)

const (
	createSessionQuery = `
        INSERT INTO sessions (id, user_id, topic, facts, target_seconds, current_stage, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	getSessionByIDQuery = `
        SELECT id, user_id, topic, facts, target_seconds, current_stage, status, error_text, final_asset_id, created_at, updated_at
        FROM sessions WHERE id = $1
    `
	updateSessionStageQuery = `
        UPDATE sessions SET current_stage = $2, status = $3, updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
    `
	markSessionFailedQuery = `
        UPDATE sessions SET current_stage = 'failed', status = 'failed', error_text = $2, updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'cancelled')
    `
	markSessionCompletedQuery = `
        UPDATE sessions SET current_stage = 'done', status = 'completed', final_asset_id = $2, updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('failed', 'cancelled')
    `
	markSessionCancelledQuery = `
        UPDATE sessions SET current_stage = 'cancelled', status = 'cancelled', updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed')
    `
)

// pgSessionRepository реализует SessionRepository для PostgreSQL.
type pgSessionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSessionRepository создает новый экземпляр репозитория сессий.
func NewPgSessionRepository(db *pgxpool.Pool, logger *zap.Logger) SessionRepository {
	return &pgSessionRepository{db: db, logger: logger.Named("PgSessionRepo")}
}

// Create создает новую запись сессии.
func (r *pgSessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.Exec(ctx, createSessionQuery,
		session.ID, session.UserID, session.Topic, session.Facts, session.TargetSecs,
		session.CurrentStage, session.Status, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session", zap.String("sessionID", session.ID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания сессии %s: %w", session.ID, err)
	}
	return nil
}

// GetByID возвращает сессию по идентификатору.
func (r *pgSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := pgxscan.Get(ctx, r.db, &session, getSessionByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		r.logger.Error("Error getting session by ID", zap.String("sessionID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения сессии %s: %w", id, err)
	}
	return &session, nil
}

// UpdateStage атомарно обновляет этап и статус; терминальные сессии не трогает.
func (r *pgSessionRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage models.Stage, status models.SessionStatus) error {
	tag, err := r.db.Exec(ctx, updateSessionStageQuery, id, stage, status)
	if err != nil {
		r.logger.Error("Failed to update session stage",
			zap.String("sessionID", id.String()), zap.String("stage", string(stage)), zap.Error(err))
		return fmt.Errorf("ошибка обновления этапа сессии %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionTerminal
	}
	return nil
}

// MarkFailed переводит сессию в failed.
func (r *pgSessionRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorText string) error {
	_, err := r.db.Exec(ctx, markSessionFailedQuery, id, errorText)
	if err != nil {
		r.logger.Error("Failed to mark session as failed", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка перевода сессии %s в failed: %w", id, err)
	}
	return nil
}

// MarkCompleted переводит сессию в completed с финальным ассетом.
func (r *pgSessionRepository) MarkCompleted(ctx context.Context, id uuid.UUID, finalAssetID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, markSessionCompletedQuery, id, finalAssetID)
	if err != nil {
		r.logger.Error("Failed to mark session as completed", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка перевода сессии %s в completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Сессия уже failed/cancelled - completed поверх не пишем
		return models.ErrSessionTerminal
	}
	return nil
}

// MarkCancelled переводит сессию в cancelled.
func (r *pgSessionRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, markSessionCancelledQuery, id)
	if err != nil {
		r.logger.Error("Failed to mark session as cancelled", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка перевода сессии %s в cancelled: %w", id, err)
	}
	return nil
}
