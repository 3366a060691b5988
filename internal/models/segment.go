package models

import (
	"time"

	"github.com/google/uuid"
)

// SegmentKind - один из четырех фиксированных нарративных битов сценария.
type SegmentKind string

const (
	SegmentHook       SegmentKind = "hook"
	SegmentConcept    SegmentKind = "concept"
	SegmentProcess    SegmentKind = "process"
	SegmentConclusion SegmentKind = "conclusion"
)

// SegmentOrder задает канонический порядок сегментов в видео.
// Fan-out результаты всегда приводятся к этому порядку, а не к порядку завершения.
var SegmentOrder = []SegmentKind{SegmentHook, SegmentConcept, SegmentProcess, SegmentConclusion}

// SegmentCount - фиксированное число сегментов в сценарии.
const SegmentCount = 4

// Segment - нарративный бит сессии. Создается этапом сценария,
// после утверждения неизменяем; остальные этапы его только читают.
type Segment struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	SessionID      uuid.UUID   `db:"session_id" json:"session_id"`
	Kind           SegmentKind `db:"kind" json:"kind"`
	// Index - позиция сегмента в каноническом порядке (0..3).
	Index          int       `db:"idx" json:"index"`
	Narration      string    `db:"narration" json:"narration"`
	TargetSecs     float64   `db:"target_seconds" json:"target_seconds"`
	VisualGuidance string    `db:"visual_guidance" json:"visual_guidance"`
	KeyConcepts    []string  `db:"key_concepts" json:"key_concepts"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
