package models

import (
	"time"

	"github.com/google/uuid"
)

// HealingStrategy - стратегия восстановления для провалившего валидацию ассета.
// Моделируется как явный вариант, а не строковое ветвление по месту.
type HealingStrategy string

const (
	// StrategySubstitute - подменить лучшим неиспользованным вариантом,
	// уже прошедшим валидацию для того же сегмента.
	StrategySubstitute HealingStrategy = "substitute"
	// StrategyEmergencyGenerate - запросить новый визуал с суженным промптом,
	// не более EmergencyMaxAttempts попыток, каждая с quick-check валидацией.
	StrategyEmergencyGenerate HealingStrategy = "emergency_generate"
	// StrategyTextSlide - терминальный фолбэк: детерминированный текстовый слайд,
	// который никогда не завершается ошибкой.
	StrategyTextSlide HealingStrategy = "text_slide"
)

// EmergencyMaxAttempts - жесткий предел попыток аварийной регенерации на один ассет.
const EmergencyMaxAttempts = 3

// HealingAction - одна запись журнала композиции о предпринятом действии лечения.
// Журнал append-only и является пользовательским артефактом, доступным после прогона.
type HealingAction struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	SessionID uuid.UUID       `db:"session_id" json:"session_id"`
	SegmentID uuid.UUID       `db:"segment_id" json:"segment_id"`
	Strategy  HealingStrategy `db:"strategy" json:"strategy"`
	// Attempt - номер попытки (для emergency_generate: 1..3, иначе 1).
	Attempt       int       `db:"attempt" json:"attempt"`
	BeforeAssetID uuid.UUID `db:"before_asset_id" json:"before_asset_id"`
	// AfterAssetID - разрешенный ассет; nil, если попытка не дала результата.
	AfterAssetID *uuid.UUID `db:"after_asset_id" json:"after_asset_id,omitempty"`
	Severity     float64    `db:"severity" json:"severity"`
	Note         string     `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CompositionSummary - терминальная сводка журнала композиции.
type CompositionSummary struct {
	SessionID        uuid.UUID     `db:"session_id" json:"session_id"`
	SegmentsTotal    int           `db:"segments_total" json:"segments_total"`
	SegmentsSucceeded int           `db:"segments_succeeded" json:"segments_succeeded"`
	SegmentsFailed   int           `db:"segments_failed" json:"segments_failed"`
	TotalCostUSD     float64       `db:"total_cost_usd" json:"total_cost_usd"`
	Duration         time.Duration `db:"-" json:"-"`
	DurationMs       int64         `db:"duration_ms" json:"duration_ms"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}

// CompositionLog - журнал композиции целиком: действия лечения плюс сводка.
type CompositionLog struct {
	SessionID uuid.UUID           `json:"session_id"`
	Actions   []HealingAction     `json:"actions"`
	Summary   *CompositionSummary `json:"summary,omitempty"`
}
