package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus представляет общий статус сессии генерации видео.
type SessionStatus string

// Возможные статусы сессии. Терминальные: completed, failed, cancelled.
const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal возвращает true, если статус терминальный и сессия больше не изменяется.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// Stage представляет текущий этап конвейера генерации.
type Stage string

// Этапы конвейера. Переходы строго вперед, кроме цикла validation -> healing -> validation.
const (
	StageScript     Stage = "script"
	StageVisuals    Stage = "visuals"
	StageAudio      Stage = "audio"
	StageValidation Stage = "validation"
	// StageCompositionValidation - предкомпозиционная проверка, что у каждого сегмента
	// есть разрешенный визуальный и аудио ассет.
	StageCompositionValidation Stage = "composition-validation"
	StageHealing               Stage = "healing"
	StageComposing             Stage = "composing"
	StageDone                  Stage = "done"
	StageFailed                Stage = "failed"
	StageCancelled             Stage = "cancelled"
)

// Session - одна сквозная сессия генерации обучающего видео.
// Владелец состояния - оркестратор; мутации только через переходы этапов.
type Session struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	UserID       string        `db:"user_id" json:"user_id"`
	Topic        string        `db:"topic" json:"topic"`
	Facts        string        `db:"facts" json:"facts"`
	TargetSecs   int           `db:"target_seconds" json:"target_seconds"`
	CurrentStage Stage         `db:"current_stage" json:"current_stage"`
	Status       SessionStatus `db:"status" json:"status"`
	ErrorText    string        `db:"error_text" json:"error_text,omitempty"`
	// FinalAssetID заполняется после успешной композиции.
	FinalAssetID *uuid.UUID `db:"final_asset_id" json:"final_asset_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
