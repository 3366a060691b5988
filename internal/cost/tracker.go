package cost

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/repository"
)

// Tracker - append-only журнал стоимости сессии.
// Записи не мутируются после создания, поэтому конкурентные писатели
// fan-out задач синхронизируются только на добавлении. Итоги всегда
// производные: сумма записей, а не отдельно хранимое поле.
type Tracker struct {
	sessionID uuid.UUID
	repo      repository.CostRepository
	logger    *zap.Logger

	mu      sync.Mutex
	entries []models.CostEntry
}

// NewTracker создает трекер стоимости одной сессии.
func NewTracker(sessionID uuid.UUID, repo repository.CostRepository, logger *zap.Logger) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		repo:      repo,
		logger:    logger.Named("CostTracker"),
	}
}

// Record добавляет запись о стоимости и персистит ее.
// Нулевая стоимость не записывается: журнал отражает реальные обращения.
func (t *Tracker) Record(ctx context.Context, c models.StageCost) {
	if c.AmountUSD <= 0 {
		return
	}
	entry := models.CostEntry{
		ID:         uuid.New(),
		SessionID:  t.sessionID,
		Service:    c.Service,
		AmountUSD:  c.AmountUSD,
		UnitDetail: c.UnitDetail,
		CreatedAt:  time.Now().UTC(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	// Сбой персистенции не роняет конвейер: запись остается в памяти,
	// итог сессии по-прежнему считается корректно.
	if err := t.repo.Append(ctx, &entry); err != nil {
		t.logger.Warn("Failed to persist cost entry",
			zap.String("session_id", t.sessionID.String()),
			zap.String("service", c.Service),
			zap.Error(err))
	}
}

// TotalUSD возвращает накопленную стоимость сессии.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, e := range t.entries {
		total += e.AmountUSD
	}
	return total
}

// Breakdown возвращает сводку стоимости по сервисам.
func (t *Tracker) Breakdown() models.CostBreakdown {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := models.CostBreakdown{
		SessionID: t.sessionID,
		ByService: make(map[string]float64),
		Entries:   append([]models.CostEntry(nil), t.entries...),
	}
	for _, e := range t.entries {
		b.TotalUSD += e.AmountUSD
		b.ByService[e.Service] += e.AmountUSD
	}
	return b
}

// BreakdownFromEntries строит сводку из персистированных записей.
// Используется для завершенных сессий, чей трекер уже не в памяти.
func BreakdownFromEntries(sessionID uuid.UUID, entries []*models.CostEntry) models.CostBreakdown {
	b := models.CostBreakdown{
		SessionID: sessionID,
		ByService: make(map[string]float64),
		Entries:   make([]models.CostEntry, 0, len(entries)),
	}
	for _, e := range entries {
		b.Entries = append(b.Entries, *e)
		b.TotalUSD += e.AmountUSD
		b.ByService[e.Service] += e.AmountUSD
	}
	return b
}
