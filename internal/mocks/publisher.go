package mocks

import (
	"context"
	"sync"

	"eduvideo-server/internal/models"
)

// ProgressRecorder - реализация progress.Publisher, записывающая события в память.
type ProgressRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

// NewProgressRecorder создает пустой рекордер событий прогресса.
func NewProgressRecorder() *ProgressRecorder {
	return &ProgressRecorder{}
}

func (r *ProgressRecorder) Publish(ctx context.Context, event models.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events возвращает копию записанных событий.
func (r *ProgressRecorder) Events() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProgressEvent(nil), r.events...)
}

// Last возвращает последнее событие либо nil.
func (r *ProgressRecorder) Last() *models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	e := r.events[len(r.events)-1]
	return &e
}

// ByType возвращает события указанного типа.
func (r *ProgressRecorder) ByType(eventType string) []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProgressEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
