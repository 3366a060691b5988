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
var _ AssetRepository = (*pgAssetRepository)(nil)

const (
	createAssetQuery = `
        INSERT INTO assets (id, session_id, segment_id, kind, variant_index, storage_ref, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	getAssetByIDQuery = `
        SELECT id, session_id, segment_id, kind, variant_index, storage_ref, status, superseded_by, created_at, updated_at
        FROM assets WHERE id = $1
    `
	listAssetsBySessionQuery = `
        SELECT id, session_id, segment_id, kind, variant_index, storage_ref, status, superseded_by, created_at, updated_at
        FROM assets WHERE session_id = $1 ORDER BY created_at, variant_index
    `
	listAssetsBySegmentQuery = `
        SELECT id, session_id, segment_id, kind, variant_index, storage_ref, status, superseded_by, created_at, updated_at
        FROM assets WHERE segment_id = $1 AND kind = $2 ORDER BY variant_index, created_at
    `
	// Смена статуса только из ожидаемого from: запрещенные переходы
	// (validated -> generated и т.п.) не проходят на уровне запроса.
	updateAssetStatusQuery = `
        UPDATE assets SET status = $3, updated_at = NOW()
        WHERE id = $1 AND status = $2
    `
	supersedeAssetQuery = `
        UPDATE assets SET status = 'substituted', superseded_by = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'rejected'
    `
)

// ErrIllegalStatusTransition - попытка недопустимого перехода статуса ассета.
var ErrIllegalStatusTransition = errors.New("illegal asset status transition")

// pgAssetRepository реализует AssetRepository для PostgreSQL.
type pgAssetRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgAssetRepository создает новый экземпляр репозитория ассетов.
func NewPgAssetRepository(db *pgxpool.Pool, logger *zap.Logger) AssetRepository {
	return &pgAssetRepository{db: db, logger: logger.Named("PgAssetRepo")}
}

// Create сохраняет новый ассет.
func (r *pgAssetRepository) Create(ctx context.Context, asset *models.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	_, err := r.db.Exec(ctx, createAssetQuery,
		asset.ID, asset.SessionID, asset.SegmentID, asset.Kind, asset.VariantIndex,
		asset.StorageRef, asset.Status, asset.CreatedAt, asset.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create asset",
			zap.String("assetID", asset.ID.String()), zap.String("kind", string(asset.Kind)), zap.Error(err))
		return fmt.Errorf("ошибка сохранения ассета %s: %w", asset.ID, err)
	}
	return nil
}

// GetByID возвращает ассет по идентификатору.
func (r *pgAssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	err := pgxscan.Get(ctx, r.db, &asset, getAssetByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAssetNotFound
		}
		return nil, fmt.Errorf("ошибка получения ассета %s: %w", id, err)
	}
	return &asset, nil
}

// ListBySession возвращает все ассеты сессии.
func (r *pgAssetRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Asset, error) {
	var assets []*models.Asset
	err := pgxscan.Select(ctx, r.db, &assets, listAssetsBySessionQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ассетов сессии %s: %w", sessionID, err)
	}
	return assets, nil
}

// ListBySegment возвращает ассеты сегмента заданного типа в каноническом порядке вариантов.
func (r *pgAssetRepository) ListBySegment(ctx context.Context, segmentID uuid.UUID, kind models.AssetKind) ([]*models.Asset, error) {
	var assets []*models.Asset
	err := pgxscan.Select(ctx, r.db, &assets, listAssetsBySegmentQuery, segmentID, kind)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ассетов сегмента %s: %w", segmentID, err)
	}
	return assets, nil
}

// UpdateStatus меняет статус ассета; переход проверяется и в коде, и условием запроса.
func (r *pgAssetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.AssetStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalStatusTransition, from, to)
	}
	tag, err := r.db.Exec(ctx, updateAssetStatusQuery, id, from, to)
	if err != nil {
		r.logger.Error("Failed to update asset status",
			zap.String("assetID", id.String()), zap.String("to", string(to)), zap.Error(err))
		return fmt.Errorf("ошибка обновления статуса ассета %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s is not in status %s", ErrIllegalStatusTransition, id, from)
	}
	return nil
}

// Supersede помечает старый ассет как substituted и связывает его с новым.
func (r *pgAssetRepository) Supersede(ctx context.Context, oldID, newID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, supersedeAssetQuery, oldID, newID)
	if err != nil {
		r.logger.Error("Failed to supersede asset",
			zap.String("oldAssetID", oldID.String()), zap.String("newAssetID", newID.String()), zap.Error(err))
		return fmt.Errorf("ошибка вытеснения ассета %s: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s is not rejected", ErrIllegalStatusTransition, oldID)
	}
	return nil
}
