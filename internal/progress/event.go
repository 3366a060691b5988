package progress

import (
	"time"

	"github.com/google/uuid"

	"eduvideo-server/internal/models"
)

// stageRange - глобальный диапазон процентов одной стадии.
// Таблица фиксирована: UI опирается на эти границы.
type stageRange struct {
	From float64
	To   float64
}

// stageRanges - отображение стадии в глобальный диапазон прогресса.
var stageRanges = map[models.Stage]stageRange{
	models.StageScript:                {From: 0, To: 15},
	models.StageVisuals:               {From: 15, To: 60},
	models.StageValidation:            {From: 60, To: 80},
	models.StageAudio:                 {From: 80, To: 88},
	models.StageCompositionValidation: {From: 88, To: 92},
	models.StageHealing:               {From: 92, To: 95},
	models.StageComposing:             {From: 95, To: 100},
}

// MapStageProgress переводит внутристадийную долю (0..1) в глобальный процент.
// Доля за пределами [0,1] обрезается. Неизвестная стадия дает 100
// (терминальные стадии done/failed/cancelled лежат за таблицей).
func MapStageProgress(stage models.Stage, frac float64) float64 {
	r, ok := stageRanges[stage]
	if !ok {
		return 100
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return r.From + frac*(r.To-r.From)
}

// NewUpdateEvent собирает обычное событие прогресса.
func NewUpdateEvent(sessionID uuid.UUID, stage models.Stage, frac float64, message string, costUSD float64) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      models.ProgressTypeUpdate,
		SessionID: sessionID.String(),
		Stage:     stage,
		Progress:  MapStageProgress(stage, frac),
		Message:   message,
		CostUSD:   costUSD,
		Timestamp: time.Now().UTC(),
	}
}

// NewCompletedEvent собирает терминальное success-событие с локатором результата.
func NewCompletedEvent(sessionID uuid.UUID, resultRef string, costUSD float64) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      models.ProgressTypeCompleted,
		SessionID: sessionID.String(),
		Stage:     models.StageDone,
		Progress:  100,
		Message:   "video is ready",
		CostUSD:   costUSD,
		ResultRef: resultRef,
		Timestamp: time.Now().UTC(),
	}
}

// NewFailedEvent собирает терминальное событие провала.
func NewFailedEvent(sessionID uuid.UUID, stage models.Stage, errMsg string, costUSD float64) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      models.ProgressTypeFailed,
		SessionID: sessionID.String(),
		Stage:     models.StageFailed,
		Progress:  MapStageProgress(stage, 0),
		Message:   "session failed",
		CostUSD:   costUSD,
		Error:     &errMsg,
		Timestamp: time.Now().UTC(),
	}
}

// NewCancelledEvent собирает терминальное событие отмены.
func NewCancelledEvent(sessionID uuid.UUID, stage models.Stage, costUSD float64) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      models.ProgressTypeCancelled,
		SessionID: sessionID.String(),
		Stage:     models.StageCancelled,
		Progress:  MapStageProgress(stage, 0),
		Message:   "session cancelled",
		CostUSD:   costUSD,
		Timestamp: time.Now().UTC(),
	}
}
