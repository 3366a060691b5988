package repository_test // Используем _test пакет для изоляции

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/repository"
	"eduvideo-server/migrations"
	"eduvideo-server/pkg/migration"
)

// RepositoryTestSuite проверяет Postgres-реализации репозиториев на реальной БД.
type RepositoryTestSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pgPool      *pgxpool.Pool
	logger      *zap.Logger

	sessions    repository.SessionRepository
	segments    repository.SegmentRepository
	assets      repository.AssetRepository
	validations repository.ValidationRepository
	costs       repository.CostRepository
	compLog     repository.CompositionLogRepository
}

func (s *RepositoryTestSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pgPool, err = pgxpool.New(s.ctx, connStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	// Миграции применяются так же, как при старте сервера
	require.NoError(s.T(), migration.NewMigrator(migrations.FS, ".", s.pgPool).Up(s.ctx))

	s.sessions = repository.NewPgSessionRepository(s.pgPool, s.logger)
	s.segments = repository.NewPgSegmentRepository(s.pgPool, s.logger)
	s.assets = repository.NewPgAssetRepository(s.pgPool, s.logger)
	s.validations = repository.NewPgValidationRepository(s.pgPool, s.logger)
	s.costs = repository.NewPgCostRepository(s.pgPool, s.logger)
	s.compLog = repository.NewPgCompositionLogRepository(s.pgPool, s.logger)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *RepositoryTestSuite) SetupTest() {
	_, err := s.pgPool.Exec(s.ctx, `TRUNCATE TABLE
		composition_summaries, healing_actions, cost_entries,
		validation_results, assets, segments, sessions CASCADE`)
	require.NoError(s.T(), err)
}

func TestRepositoryTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RepositoryTestSuite))
}

// --- Хелперы ---

func (s *RepositoryTestSuite) createSession() *models.Session {
	session := &models.Session{
		ID:           uuid.New(),
		UserID:       "teacher-1",
		Topic:        "Photosynthesis",
		Facts:        "Plants convert light into chemical energy",
		TargetSecs:   60,
		CurrentStage: models.StageScript,
		Status:       models.SessionStatusPending,
	}
	require.NoError(s.T(), s.sessions.Create(s.ctx, session))
	return session
}

func (s *RepositoryTestSuite) createSegment(sessionID uuid.UUID, idx int) *models.Segment {
	segment := &models.Segment{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Kind:        models.SegmentOrder[idx],
		Index:       idx,
		Narration:   "narration",
		TargetSecs:  15,
		KeyConcepts: []string{"chlorophyll", "glucose"},
	}
	require.NoError(s.T(), s.segments.CreateBatch(s.ctx, []*models.Segment{segment}))
	return segment
}

func (s *RepositoryTestSuite) createAsset(sessionID, segmentID uuid.UUID, variant int, status models.AssetStatus) *models.Asset {
	asset := &models.Asset{
		ID:           uuid.New(),
		SessionID:    sessionID,
		SegmentID:    &segmentID,
		Kind:         models.AssetKindVisual,
		VariantIndex: variant,
		StorageRef:   "visuals/a.png",
		Status:       status,
	}
	require.NoError(s.T(), s.assets.Create(s.ctx, asset))
	return asset
}

// --- Сессии ---

func (s *RepositoryTestSuite) TestSessionLifecycle() {
	t := s.T()
	session := s.createSession()

	loaded, err := s.sessions.GetByID(s.ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.Topic, loaded.Topic)
	require.Equal(t, models.SessionStatusPending, loaded.Status)

	require.NoError(t, s.sessions.UpdateStage(s.ctx, session.ID, models.StageVisuals, models.SessionStatusRunning))
	loaded, err = s.sessions.GetByID(s.ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StageVisuals, loaded.CurrentStage)
	require.Equal(t, models.SessionStatusRunning, loaded.Status)

	finalAsset := s.createAsset(session.ID, s.createSegment(session.ID, 0).ID, 0, models.AssetStatusValidated)
	require.NoError(t, s.sessions.MarkCompleted(s.ctx, session.ID, finalAsset.ID))
	loaded, err = s.sessions.GetByID(s.ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.FinalAssetID)
	require.Equal(t, finalAsset.ID, *loaded.FinalAssetID)
}

func (s *RepositoryTestSuite) TestSessionGetByID_NotFound() {
	_, err := s.sessions.GetByID(s.ctx, uuid.New())
	require.ErrorIs(s.T(), err, models.ErrSessionNotFound)
}

// Терминальная сессия неизменяема: запоздавшие переходы этапов отбрасываются.
func (s *RepositoryTestSuite) TestSessionTerminalStateIsImmutable() {
	t := s.T()
	session := s.createSession()
	require.NoError(t, s.sessions.MarkCancelled(s.ctx, session.ID))

	require.ErrorIs(t, s.sessions.UpdateStage(s.ctx, session.ID, models.StageComposing, models.SessionStatusRunning), models.ErrSessionTerminal)
	require.ErrorIs(t, s.sessions.MarkFailed(s.ctx, session.ID, "late failure"), models.ErrSessionTerminal)
	require.ErrorIs(t, s.sessions.MarkCancelled(s.ctx, session.ID), models.ErrSessionTerminal)

	loaded, err := s.sessions.GetByID(s.ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCancelled, loaded.Status)
}

// --- Сегменты ---

func (s *RepositoryTestSuite) TestSegmentCreateBatchAndList() {
	t := s.T()
	session := s.createSession()

	batch := make([]*models.Segment, 0, models.SegmentCount)
	for i := range models.SegmentOrder {
		batch = append(batch, &models.Segment{
			ID:          uuid.New(),
			SessionID:   session.ID,
			Kind:        models.SegmentOrder[i],
			Index:       i,
			Narration:   "narration",
			TargetSecs:  15,
			KeyConcepts: []string{"concept"},
		})
	}
	require.NoError(t, s.segments.CreateBatch(s.ctx, batch))

	listed, err := s.segments.ListBySession(s.ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, listed, models.SegmentCount)
	// Сегменты приходят в каноническом порядке
	for i, seg := range listed {
		require.Equal(t, i, seg.Index)
		require.Equal(t, models.SegmentOrder[i], seg.Kind)
	}
	require.Equal(t, []string{"concept"}, listed[0].KeyConcepts)
}

// --- Ассеты ---

func (s *RepositoryTestSuite) TestAssetStatusTransitions() {
	t := s.T()
	session := s.createSession()
	segment := s.createSegment(session.ID, 0)
	asset := s.createAsset(session.ID, segment.ID, 0, models.AssetStatusGenerated)

	require.NoError(t, s.assets.UpdateStatus(s.ctx, asset.ID, models.AssetStatusGenerated, models.AssetStatusValidated))

	loaded, err := s.assets.GetByID(s.ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, models.AssetStatusValidated, loaded.Status)

	// Обратный переход запрещен
	err = s.assets.UpdateStatus(s.ctx, asset.ID, models.AssetStatusValidated, models.AssetStatusGenerated)
	require.ErrorIs(t, err, repository.ErrIllegalStatusTransition)

	// CAS: фактический статус уже не generated
	err = s.assets.UpdateStatus(s.ctx, asset.ID, models.AssetStatusGenerated, models.AssetStatusRejected)
	require.ErrorIs(t, err, repository.ErrIllegalStatusTransition)
}

func (s *RepositoryTestSuite) TestAssetSupersede() {
	t := s.T()
	session := s.createSession()
	segment := s.createSegment(session.ID, 0)
	flagged := s.createAsset(session.ID, segment.ID, 0, models.AssetStatusGenerated)
	replacement := s.createAsset(session.ID, segment.ID, 1, models.AssetStatusValidated)

	// Вытеснить можно только rejected ассет
	require.ErrorIs(t, s.assets.Supersede(s.ctx, flagged.ID, replacement.ID), repository.ErrIllegalStatusTransition)

	require.NoError(t, s.assets.UpdateStatus(s.ctx, flagged.ID, models.AssetStatusGenerated, models.AssetStatusRejected))
	require.NoError(t, s.assets.Supersede(s.ctx, flagged.ID, replacement.ID))

	loaded, err := s.assets.GetByID(s.ctx, flagged.ID)
	require.NoError(t, err)
	require.Equal(t, models.AssetStatusSubstituted, loaded.Status)
	require.NotNil(t, loaded.SupersededBy)
	require.Equal(t, replacement.ID, *loaded.SupersededBy)

	// Строка не удалена: журнал композиции опирается на полную историю
	listed, err := s.assets.ListBySegment(s.ctx, segment.ID, models.AssetKindVisual)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

// --- Результаты валидации ---

func (s *RepositoryTestSuite) TestValidationResults() {
	t := s.T()
	session := s.createSession()
	segment := s.createSegment(session.ID, 0)
	asset := s.createAsset(session.ID, segment.ID, 0, models.AssetStatusGenerated)

	results := []*models.ValidationResult{
		{ID: uuid.New(), AssetID: asset.ID, Criterion: models.CriterionScientificAccuracy, Passed: true, Confidence: 0.92},
		{ID: uuid.New(), AssetID: asset.ID, Criterion: models.CriterionVisualClarity, Passed: false, Confidence: 0.55, Issue: "cluttered"},
	}
	require.NoError(t, s.validations.CreateBatch(s.ctx, results))

	listed, err := s.validations.ListByAsset(s.ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

// --- Журнал стоимости ---

func (s *RepositoryTestSuite) TestCostEntries() {
	t := s.T()
	session := s.createSession()

	for _, e := range []struct {
		service string
		amount  float64
	}{{"visual", 0.32}, {"audio", 0.12}} {
		require.NoError(t, s.costs.Append(s.ctx, &models.CostEntry{
			ID:        uuid.New(),
			SessionID: session.ID,
			Service:   e.service,
			AmountUSD: e.amount,
			CreatedAt: time.Now().UTC(),
		}))
	}

	listed, err := s.costs.ListBySession(s.ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

// --- Журнал композиции ---

func (s *RepositoryTestSuite) TestCompositionLog() {
	t := s.T()
	session := s.createSession()
	segment := s.createSegment(session.ID, 0)
	before := s.createAsset(session.ID, segment.ID, 0, models.AssetStatusGenerated)
	after := s.createAsset(session.ID, segment.ID, 1, models.AssetStatusValidated)

	afterID := after.ID
	require.NoError(t, s.compLog.AppendAction(s.ctx, &models.HealingAction{
		ID:            uuid.New(),
		SessionID:     session.ID,
		SegmentID:     segment.ID,
		Strategy:      models.StrategySubstitute,
		Attempt:       1,
		BeforeAssetID: before.ID,
		AfterAssetID:  &afterID,
		Severity:      0.75,
		Note:          "substituted with variant 1",
	}))

	actions, err := s.compLog.ListActions(s.ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, models.StrategySubstitute, actions[0].Strategy)
	require.NotNil(t, actions[0].AfterAssetID)

	_, err = s.compLog.GetSummary(s.ctx, session.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.compLog.SaveSummary(s.ctx, &models.CompositionSummary{
		SessionID:        session.ID,
		SegmentsTotal:    4,
		SegmentsSucceeded: 4,
		TotalCostUSD:     0.64,
		Duration:         42 * time.Second,
	}))

	summary, err := s.compLog.GetSummary(s.ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 4, summary.SegmentsTotal)
	require.InDelta(t, 0.64, summary.TotalCostUSD, 1e-9)
	require.Equal(t, int64(42000), summary.DurationMs)
}
