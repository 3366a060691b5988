package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/agents"
	"eduvideo-server/internal/compositor"
	"eduvideo-server/internal/cost"
	"eduvideo-server/internal/healing"
	"eduvideo-server/internal/models"
	"eduvideo-server/internal/progress"
	"eduvideo-server/internal/repository"
	"eduvideo-server/internal/storage"
	"eduvideo-server/internal/taskrunner"
	"eduvideo-server/internal/validator"
	"eduvideo-server/internal/worker"
)

// Config - параметры конвейера, не зависящие от конкретной сессии.
type Config struct {
	VariantsPerSegment int
	VideoFPS           int
	VideoResolution    string
}

// Repos - набор репозиториев, используемых оркестратором.
type Repos struct {
	Sessions    repository.SessionRepository
	Segments    repository.SegmentRepository
	Assets      repository.AssetRepository
	Validations repository.ValidationRepository
	Costs       repository.CostRepository
	CompLog     repository.CompositionLogRepository
}

// Orchestrator - верхнеуровневая машина состояний конвейера.
// Владеет состоянием сессии: все мутации сессии проходят через него,
// конкурентные сессии полностью независимы.
type Orchestrator struct {
	cfg    Config
	repos  Repos
	logger *zap.Logger

	narrative agents.NarrativeAgent
	visual    agents.VisualAgent
	audio     agents.AudioAgent
	validator validator.VisionValidator
	healer    *healing.Engine
	comp      compositor.Compositor

	store     storage.AssetStore
	publisher progress.Publisher
	runner    *taskrunner.Runner
}

// New создает оркестратор конвейера.
func New(
	cfg Config,
	repos Repos,
	narrative agents.NarrativeAgent,
	visual agents.VisualAgent,
	audio agents.AudioAgent,
	vv validator.VisionValidator,
	healer *healing.Engine,
	comp compositor.Compositor,
	store storage.AssetStore,
	publisher progress.Publisher,
	runner *taskrunner.Runner,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.VariantsPerSegment <= 0 {
		cfg.VariantsPerSegment = 2
	}
	return &Orchestrator{
		cfg:       cfg,
		repos:     repos,
		narrative: narrative,
		visual:    visual,
		audio:     audio,
		validator: vv,
		healer:    healer,
		comp:      comp,
		store:     store,
		publisher: publisher,
		runner:    runner,
		logger:    logger.Named("Orchestrator"),
	}
}

// StartSession создает сессию и запускает конвейер асинхронно.
// Возвращается сразу; дальнейшее наблюдение через события прогресса.
func (o *Orchestrator) StartSession(ctx context.Context, userID, topic, facts string, targetSecs int) (*models.Session, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: пустая тема", models.ErrInvalidInput)
	}
	if strings.TrimSpace(facts) == "" {
		return nil, fmt.Errorf("%w: пустой набор фактов", models.ErrInvalidInput)
	}
	if targetSecs <= 0 {
		return nil, fmt.Errorf("%w: некорректная целевая длительность", models.ErrInvalidInput)
	}

	session := &models.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Topic:        topic,
		Facts:        facts,
		TargetSecs:   targetSecs,
		CurrentStage: models.StageScript,
		Status:       models.SessionStatusPending,
	}
	if err := o.repos.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("ошибка создания сессии: %w", err)
	}

	err := o.runner.Submit(ctx, session.ID, func(runCtx context.Context, cancelRequested *atomic.Bool) error {
		return o.runPipeline(runCtx, session, cancelRequested)
	})
	if err != nil {
		// Запуск не принят: сессия сразу терминальна, клиент видит причину
		if markErr := o.repos.Sessions.MarkFailed(ctx, session.ID, err.Error()); markErr != nil {
			o.logger.Error("Failed to mark unscheduled session as failed",
				zap.String("session_id", session.ID.String()), zap.Error(markErr))
		}
		if errors.Is(err, taskrunner.ErrTooManyActiveRuns) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка запуска конвейера: %w", err)
	}

	worker.IncSessionStarted()
	o.logger.Info("Session started",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", userID),
		zap.String("topic", topic))
	return session, nil
}

// CancelSession запрашивает кооперативную отмену сессии.
// Безопасна из любого состояния: для терминальной сессии возвращает
// ErrSessionTerminal, в остальных случаях останавливает планирование
// новой работы. Выполняющиеся вызовы дорабатывают, результаты отбрасываются.
func (o *Orchestrator) CancelSession(ctx context.Context, id uuid.UUID) error {
	session, err := o.repos.Sessions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return models.ErrSessionTerminal
	}

	o.runner.Cancel(id)
	o.logger.Info("Session cancellation requested", zap.String("session_id", id.String()))
	return nil
}

// GetSession возвращает сессию по идентификатору.
func (o *Orchestrator) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return o.repos.Sessions.GetByID(ctx, id)
}

// CostBreakdown возвращает производную сводку стоимости сессии.
func (o *Orchestrator) CostBreakdown(ctx context.Context, id uuid.UUID) (*models.CostBreakdown, error) {
	if _, err := o.repos.Sessions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	entries, err := o.repos.Costs.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	b := cost.BreakdownFromEntries(id, entries)
	return &b, nil
}

// CompositionLog возвращает пользовательский журнал композиции сессии.
// Доступен и после завершения прогона, и по ходу него.
func (o *Orchestrator) CompositionLog(ctx context.Context, id uuid.UUID) (*models.CompositionLog, error) {
	if _, err := o.repos.Sessions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	actions, err := o.repos.CompLog.ListActions(ctx, id)
	if err != nil {
		return nil, err
	}

	log := &models.CompositionLog{
		SessionID: id,
		Actions:   make([]models.HealingAction, 0, len(actions)),
	}
	for _, a := range actions {
		log.Actions = append(log.Actions, *a)
	}

	summary, err := o.repos.CompLog.GetSummary(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	log.Summary = summary
	return log, nil
}
