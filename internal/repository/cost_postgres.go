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
var _ CostRepository = (*pgCostRepository)(nil)

const (
	appendCostEntryQuery = `
        INSERT INTO cost_entries (id, session_id, service, amount_usd, unit_detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	listCostEntriesBySessionQuery = `
        SELECT id, session_id, service, amount_usd, unit_detail, created_at
        FROM cost_entries WHERE session_id = $1 ORDER BY created_at
    `
)

// pgCostRepository реализует CostRepository для PostgreSQL.
// Журнал append-only: записи после вставки не изменяются.
type pgCostRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgCostRepository создает новый экземпляр репозитория стоимости.
func NewPgCostRepository(db *pgxpool.Pool, logger *zap.Logger) CostRepository {
	return &pgCostRepository{db: db, logger: logger.Named("PgCostRepo")}
}

// Append добавляет запись о стоимости.
func (r *pgCostRepository) Append(ctx context.Context, entry *models.CostEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, appendCostEntryQuery,
		entry.ID, entry.SessionID, entry.Service, entry.AmountUSD, entry.UnitDetail, entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append cost entry",
			zap.String("sessionID", entry.SessionID.String()), zap.String("service", entry.Service), zap.Error(err))
		return fmt.Errorf("ошибка записи стоимости для сессии %s: %w", entry.SessionID, err)
	}
	return nil
}

// ListBySession возвращает записи стоимости сессии в порядке добавления.
func (r *pgCostRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.CostEntry, error) {
	var entries []*models.CostEntry
	err := pgxscan.Select(ctx, r.db, &entries, listCostEntriesBySessionQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стоимости сессии %s: %w", sessionID, err)
	}
	return entries, nil
}
