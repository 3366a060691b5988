package models

import (
	"errors"
	"fmt"
)

// Стандартные ошибки уровня приложения.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrAssetNotFound   = errors.New("asset not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrSessionTerminal = errors.New("session is in a terminal state")
	ErrInvalidInput    = errors.New("invalid input data")
	ErrInternalServer  = errors.New("internal server error")

	// ErrInvariantViolation - нарушение внутреннего инварианта конвейера
	// (например, отсутствие обязательного сегмента). Всегда фатально для сессии.
	ErrInvariantViolation = errors.New("pipeline invariant violation")

	// ErrCancelledByUser - запрошена кооперативная отмена; результаты
	// доработавших вызовов отбрасываются.
	ErrCancelledByUser = errors.New("cancelled by user")
)

// ErrorKind - таксономия ошибок конвейера.
type ErrorKind string

const (
	// KindAgentFailure - сам вызов генерации упал; ретраится в рамках бюджета этапа.
	KindAgentFailure ErrorKind = "agent_failure"
	// KindValidationFailure - контент не прошел качество; обрабатывается лечением,
	// сам по себе никогда не роняет сессию.
	KindValidationFailure ErrorKind = "validation_failure"
	// KindCompositionFailure - инфраструктурная ошибка рендера; фатальна, без лечения.
	KindCompositionFailure ErrorKind = "composition_failure"
	// KindCancelled - кооперативная остановка по запросу пользователя.
	KindCancelled ErrorKind = "cancelled"
	// KindTimeout - таймаут внешнего вызова; трактуется как agent_failure.
	KindTimeout ErrorKind = "timeout"
)

// PipelineError - типизированная ошибка конвейера с привязкой к этапу и сегменту.
type PipelineError struct {
	Kind      ErrorKind
	Stage     Stage
	SegmentID string
	Err       error
}

func (e *PipelineError) Error() string {
	if e.SegmentID != "" {
		return fmt.Sprintf("%s at stage %s (segment %s): %v", e.Kind, e.Stage, e.SegmentID, e.Err)
	}
	return fmt.Sprintf("%s at stage %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError создает типизированную ошибку конвейера.
func NewPipelineError(kind ErrorKind, stage Stage, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// IsFatal возвращает true, если ошибка должна перевести сессию в failed.
// ValidationFailure и Timeout поглощаются политикой ретраев/фолбэков.
func (e *PipelineError) IsFatal() bool {
	switch e.Kind {
	case KindCompositionFailure:
		return true
	case KindCancelled, KindValidationFailure, KindTimeout:
		return false
	default:
		return false
	}
}
