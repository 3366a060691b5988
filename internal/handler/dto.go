package handler

import (
	"time"

	"eduvideo-server/internal/models"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// CreateSessionRequest - запрос на запуск генерации видео.
type CreateSessionRequest struct {
	Topic string `json:"topic" binding:"required"`
	// Facts - факты преподавателя, из которых пишется сценарий.
	Facts         string `json:"facts" binding:"required"`
	TargetSeconds int    `json:"target_seconds" binding:"required,gt=0"`
}

// SessionResponse - представление сессии в API.
type SessionResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Topic         string     `json:"topic"`
	TargetSeconds int        `json:"target_seconds"`
	CurrentStage  string     `json:"current_stage"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	FinalAssetID  *string    `json:"final_asset_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// toSessionResponse собирает ответ API из модели сессии.
func toSessionResponse(s *models.Session) SessionResponse {
	resp := SessionResponse{
		ID:            s.ID.String(),
		UserID:        s.UserID,
		Topic:         s.Topic,
		TargetSeconds: s.TargetSecs,
		CurrentStage:  string(s.CurrentStage),
		Status:        string(s.Status),
		Error:         s.ErrorText,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.FinalAssetID != nil {
		id := s.FinalAssetID.String()
		resp.FinalAssetID = &id
	}
	return resp
}
