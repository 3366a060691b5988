package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunStatus представляет статус запуска конвейера.
type RunStatus string

// Возможные статусы запуска
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ErrTooManyActiveRuns - превышен лимит параллельных сессий.
var ErrTooManyActiveRuns = errors.New("превышено максимальное количество активных сессий")

// RunFunc - функция конвейера одной сессии.
// cancelRequested проверяется на границах этапов: запрошенная отмена
// не убивает выполняющиеся вызовы, а останавливает планирование новых.
type RunFunc func(ctx context.Context, cancelRequested *atomic.Bool) error

// Run представляет один асинхронный запуск конвейера сессии.
type Run struct {
	SessionID uuid.UUID
	Status    RunStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	cancelRequested *atomic.Bool
	cancel          context.CancelFunc
}

// Runner управляет асинхронными запусками конвейера: не более одного
// запуска на сессию, общий лимит параллельных сессий.
type Runner struct {
	runs    map[uuid.UUID]*Run
	mu      sync.RWMutex
	maxRuns int
	closing chan struct{}
	wg      sync.WaitGroup
}

// Config содержит конфигурацию для Runner.
type Config struct {
	MaxActiveRuns int
}

// New создает новый экземпляр Runner.
func New(cfg Config) *Runner {
	maxRuns := cfg.MaxActiveRuns
	if maxRuns <= 0 {
		maxRuns = 10
	}
	return &Runner{
		runs:    make(map[uuid.UUID]*Run),
		maxRuns: maxRuns,
		closing: make(chan struct{}),
	}
}

// Submit запускает конвейер сессии в отдельной горутине.
// Контекст запуска независим от контекста HTTP запроса: логгер
// переносится, время жизни - нет.
func (r *Runner) Submit(ctx context.Context, sessionID uuid.UUID, fn RunFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.closing:
		return errors.New("раннер останавливается, новые запуски не принимаются")
	default:
	}

	if existing, ok := r.runs[sessionID]; ok &&
		(existing.Status == RunStatusPending || existing.Status == RunStatusRunning) {
		return fmt.Errorf("сессия %s уже выполняется", sessionID)
	}

	active := 0
	for _, run := range r.runs {
		if run.Status == RunStatusPending || run.Status == RunStatusRunning {
			active++
		}
	}
	if active >= r.maxRuns {
		return ErrTooManyActiveRuns
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	runLogger := log.Ctx(ctx)
	runCtx := runLogger.WithContext(baseCtx)

	run := &Run{
		SessionID:       sessionID,
		Status:          RunStatusPending,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
		cancelRequested: &atomic.Bool{},
		cancel:          cancel,
	}
	r.runs[sessionID] = run

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(runCtx, run, fn)
	}()

	return nil
}

// execute выполняет запуск и обновляет его статус.
func (r *Runner) execute(ctx context.Context, run *Run, fn RunFunc) {
	r.setStatus(run, RunStatusRunning)

	err := fn(ctx, run.cancelRequested)

	switch {
	case run.cancelRequested.Load():
		log.Ctx(ctx).Info().Str("sessionID", run.SessionID.String()).Msg("Запуск конвейера отменен")
		r.setStatus(run, RunStatusCancelled)
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Str("sessionID", run.SessionID.String()).Msg("Запуск конвейера завершился с ошибкой")
		r.setStatus(run, RunStatusFailed)
	default:
		log.Ctx(ctx).Info().Str("sessionID", run.SessionID.String()).Msg("Запуск конвейера успешно выполнен")
		r.setStatus(run, RunStatusCompleted)
	}
}

func (r *Runner) setStatus(run *Run, status RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Status = status
	run.UpdatedAt = time.Now()
}

// GetRun возвращает информацию о запуске сессии.
func (r *Runner) GetRun(sessionID uuid.UUID) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[sessionID]
	if !ok {
		return nil, fmt.Errorf("запуск для сессии %s не найден", sessionID)
	}
	return run, nil
}

// Cancel запрашивает кооперативную отмену запуска сессии.
// Флаг проверяется конвейером на границах этапов; выполняющиеся вызовы
// дорабатывают, их результаты отбрасываются. Безопасно вызывать из
// любого состояния: отмена завершенного или неизвестного запуска - no-op.
func (r *Runner) Cancel(sessionID uuid.UUID) {
	r.mu.RLock()
	run, ok := r.runs[sessionID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	run.cancelRequested.Store(true)
}

// ActiveCount возвращает число активных запусков.
func (r *Runner) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := 0
	for _, run := range r.runs {
		if run.Status == RunStatusPending || run.Status == RunStatusRunning {
			active++
		}
	}
	return active
}

// CleanupRuns удаляет завершенные запуски старше указанного времени.
func (r *Runner) CleanupRuns(age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, run := range r.runs {
		if (run.Status == RunStatusCompleted || run.Status == RunStatusFailed || run.Status == RunStatusCancelled) &&
			now.Sub(run.UpdatedAt) > age {
			delete(r.runs, id)
		}
	}
}

// Shutdown запрашивает отмену всех активных запусков и ждет их завершения с таймаутом.
func (r *Runner) Shutdown(ctx context.Context) error {
	close(r.closing)

	r.mu.Lock()
	for _, run := range r.runs {
		if run.Status == RunStatusPending || run.Status == RunStatusRunning {
			run.cancelRequested.Store(true)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Таймаут: жесткая отмена контекстов оставшихся запусков
		r.mu.Lock()
		for _, run := range r.runs {
			if run.cancel != nil {
				run.cancel()
			}
		}
		r.mu.Unlock()
		return errors.New("таймаут при ожидании завершения запусков")
	}
}
