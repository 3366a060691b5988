package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// Compile-time check
var _ SegmentRepository = (*pgSegmentRepository)(nil)

const (
	createSegmentQuery = `
        INSERT INTO segments (id, session_id, kind, idx, narration, target_seconds, visual_guidance, key_concepts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	listSegmentsBySessionQuery = `
        SELECT id, session_id, kind, idx, narration, target_seconds, visual_guidance, key_concepts, created_at
        FROM segments WHERE session_id = $1 ORDER BY idx
    `
)

// pgSegmentRepository реализует SegmentRepository для PostgreSQL.
type pgSegmentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSegmentRepository создает новый экземпляр репозитория сегментов.
func NewPgSegmentRepository(db *pgxpool.Pool, logger *zap.Logger) SegmentRepository {
	return &pgSegmentRepository{db: db, logger: logger.Named("PgSegmentRepo")}
}

// CreateBatch сохраняет все сегменты сценария одной транзакцией:
// этап сценария либо записан целиком, либо не записан вовсе.
func (r *pgSegmentRepository) CreateBatch(ctx context.Context, segments []*models.Segment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции для сегментов: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, seg := range segments {
		if seg.ID == uuid.Nil {
			seg.ID = uuid.New()
		}
		seg.CreatedAt = now
		_, err = tx.Exec(ctx, createSegmentQuery,
			seg.ID, seg.SessionID, seg.Kind, seg.Index, seg.Narration,
			seg.TargetSecs, seg.VisualGuidance, seg.KeyConcepts, seg.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert segment",
				zap.String("sessionID", seg.SessionID.String()), zap.Int("idx", seg.Index), zap.Error(err))
			return fmt.Errorf("ошибка сохранения сегмента %d сессии %s: %w", seg.Index, seg.SessionID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита сегментов: %w", err)
	}
	return nil
}

// ListBySession возвращает сегменты сессии в каноническом порядке (по idx).
func (r *pgSegmentRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Segment, error) {
	var segments []*models.Segment
	err := pgxscan.Select(ctx, r.db, &segments, listSegmentsBySessionQuery, sessionID)
	if err != nil {
		r.logger.Error("Error listing segments", zap.String("sessionID", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения сегментов сессии %s: %w", sessionID, err)
	}
	return segments, nil
}
