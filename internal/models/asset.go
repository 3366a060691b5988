package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetKind - тип сгенерированного артефакта.
type AssetKind string

const (
	AssetKindVisual     AssetKind = "visual"
	AssetKindAudio      AssetKind = "audio"
	AssetKindFinalVideo AssetKind = "final-video"
	AssetKindTextSlide  AssetKind = "text-slide"
)

// AssetStatus - статус ассета в жизненном цикле валидации.
//
// Допустимые переходы: generated -> validated, generated -> rejected -> substituted.
// Переход validated -> generated запрещен. Ассеты никогда не удаляются,
// только вытесняются новой строкой (аудит для журнала композиции).
type AssetStatus string

const (
	AssetStatusGenerated   AssetStatus = "generated"
	AssetStatusValidated   AssetStatus = "validated"
	AssetStatusRejected    AssetStatus = "rejected"
	AssetStatusSubstituted AssetStatus = "substituted"
)

// CanTransitionTo проверяет допустимость перехода статуса ассета.
func (s AssetStatus) CanTransitionTo(next AssetStatus) bool {
	switch s {
	case AssetStatusGenerated:
		return next == AssetStatusValidated || next == AssetStatusRejected
	case AssetStatusRejected:
		return next == AssetStatusSubstituted
	default:
		return false
	}
}

// Asset - сгенерированный артефакт (визуал, аудио, текстовый слайд или финальное видео).
type Asset struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	// SegmentID равен nil только для финального видео.
	SegmentID *uuid.UUID `db:"segment_id" json:"segment_id,omitempty"`
	Kind      AssetKind  `db:"kind" json:"kind"`
	// VariantIndex - индекс варианта в рамках fan-out генерации (0..N-1).
	VariantIndex int `db:"variant_index" json:"variant_index"`
	// StorageRef - непрозрачный локатор в хранилище ассетов, не путь на диске.
	StorageRef string      `db:"storage_ref" json:"storage_ref"`
	Status     AssetStatus `db:"status" json:"status"`
	// SupersededBy указывает на ассет, вытеснивший данный при лечении.
	SupersededBy *uuid.UUID `db:"superseded_by" json:"superseded_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
