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
var _ ValidationRepository = (*pgValidationRepository)(nil)

const (
	createValidationResultQuery = `
        INSERT INTO validation_results (id, asset_id, criterion, passed, confidence, issue, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	listValidationResultsByAssetQuery = `
        SELECT id, asset_id, criterion, passed, confidence, issue, created_at
        FROM validation_results WHERE asset_id = $1 ORDER BY criterion
    `
)

// pgValidationRepository реализует ValidationRepository для PostgreSQL.
// Записи неизменяемы: только вставка и чтение, без UPDATE.
type pgValidationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgValidationRepository создает новый экземпляр репозитория результатов валидации.
func NewPgValidationRepository(db *pgxpool.Pool, logger *zap.Logger) ValidationRepository {
	return &pgValidationRepository{db: db, logger: logger.Named("PgValidationRepo")}
}

// CreateBatch сохраняет результаты валидации одного ассета одной транзакцией.
func (r *pgValidationRepository) CreateBatch(ctx context.Context, results []*models.ValidationResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции для результатов валидации: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		res.CreatedAt = now
		_, err = tx.Exec(ctx, createValidationResultQuery,
			res.ID, res.AssetID, res.Criterion, res.Passed, res.Confidence, res.Issue, res.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert validation result",
				zap.String("assetID", res.AssetID.String()), zap.String("criterion", string(res.Criterion)), zap.Error(err))
			return fmt.Errorf("ошибка сохранения результата валидации ассета %s: %w", res.AssetID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита результатов валидации: %w", err)
	}
	return nil
}

// ListByAsset возвращает результаты валидации ассета.
func (r *pgValidationRepository) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*models.ValidationResult, error) {
	var results []*models.ValidationResult
	err := pgxscan.Select(ctx, r.db, &results, listValidationResultsByAssetQuery, assetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения результатов валидации ассета %s: %w", assetID, err)
	}
	return results, nil
}
