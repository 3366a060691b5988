package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/orchestrator"
	"eduvideo-server/internal/progress"
	"eduvideo-server/internal/taskrunner"
)

// SessionHandler обрабатывает HTTP запросы к сессиям генерации видео.
type SessionHandler struct {
	orch   *orchestrator.Orchestrator
	cache  progress.LastEventCache
	logger *zap.Logger
}

// NewSessionHandler создает новый SessionHandler.
func NewSessionHandler(orch *orchestrator.Orchestrator, cache progress.LastEventCache, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		orch:   orch,
		cache:  cache,
		logger: logger.Named("SessionHandler"),
	}
}

// RegisterRoutes регистрирует маршруты сессий.
func (h *SessionHandler) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/sessions")
	api.Use(auth)
	{
		api.POST("", h.createSession)
		api.GET("/:id", h.getSession)
		api.POST("/:id/cancel", h.cancelSession)
		api.GET("/:id/status", h.getStatus)
		api.GET("/:id/cost", h.getCost)
		api.GET("/:id/composition-log", h.getCompositionLog)
	}
}

// createSession запускает новую сессию генерации видео.
// Возвращается сразу: вся работа асинхронна и наблюдается через события прогресса.
func (h *SessionHandler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}

	userID := c.GetString(userIDKey)
	session, err := h.orch.StartSession(c.Request.Context(), userID, req.Topic, req.Facts, req.TargetSeconds)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
		case errors.Is(err, taskrunner.ErrTooManyActiveRuns):
			c.JSON(http.StatusTooManyRequests, APIError{Message: "too many active sessions, try again later"})
		default:
			h.logger.Error("Failed to start session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, APIError{Message: "failed to start session"})
		}
		return
	}

	c.JSON(http.StatusAccepted, toSessionResponse(session))
}

// getSession возвращает текущее состояние сессии.
func (h *SessionHandler) getSession(c *gin.Context) {
	session, ok := h.loadOwnSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// cancelSession запрашивает кооперативную отмену сессии.
func (h *SessionHandler) cancelSession(c *gin.Context) {
	session, ok := h.loadOwnSession(c)
	if !ok {
		return
	}

	if err := h.orch.CancelSession(c.Request.Context(), session.ID); err != nil {
		if errors.Is(err, models.ErrSessionTerminal) {
			c.JSON(http.StatusConflict, APIError{Message: "session is already in a terminal state"})
			return
		}
		h.logger.Error("Failed to cancel session", zap.String("session_id", session.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to cancel session"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// getStatus возвращает последнее событие прогресса сессии (для polling-клиентов).
func (h *SessionHandler) getStatus(c *gin.Context) {
	session, ok := h.loadOwnSession(c)
	if !ok {
		return
	}

	event, err := h.cache.Get(c.Request.Context(), session.ID.String())
	if err != nil {
		if errors.Is(err, progress.ErrNoCachedEvent) {
			// Событий еще нет: отдаем снимок из состояния сессии
			c.JSON(http.StatusOK, gin.H{
				"session_id": session.ID.String(),
				"stage":      session.CurrentStage,
				"status":     session.Status,
			})
			return
		}
		h.logger.Error("Failed to read cached progress", zap.String("session_id", session.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to read session status"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// getCost возвращает производную сводку стоимости сессии.
func (h *SessionHandler) getCost(c *gin.Context) {
	session, ok := h.loadOwnSession(c)
	if !ok {
		return
	}

	breakdown, err := h.orch.CostBreakdown(c.Request.Context(), session.ID)
	if err != nil {
		h.logger.Error("Failed to build cost breakdown", zap.String("session_id", session.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to build cost breakdown"})
		return
	}

	c.JSON(http.StatusOK, breakdown)
}

// getCompositionLog возвращает журнал композиции сессии.
// Журнал - пользовательский артефакт, доступный и по ходу прогона, и после.
func (h *SessionHandler) getCompositionLog(c *gin.Context) {
	session, ok := h.loadOwnSession(c)
	if !ok {
		return
	}

	log, err := h.orch.CompositionLog(c.Request.Context(), session.ID)
	if err != nil {
		h.logger.Error("Failed to load composition log", zap.String("session_id", session.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to load composition log"})
		return
	}

	c.JSON(http.StatusOK, log)
}

// loadOwnSession парсит идентификатор, загружает сессию и проверяет владельца.
func (h *SessionHandler) loadOwnSession(c *gin.Context) (*models.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid session id"})
		return nil, false
	}

	session, err := h.orch.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, APIError{Message: "session not found"})
			return nil, false
		}
		h.logger.Error("Failed to load session", zap.String("session_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to load session"})
		return nil, false
	}

	if session.UserID != c.GetString(userIDKey) {
		c.JSON(http.StatusForbidden, APIError{Message: "session belongs to another user"})
		return nil, false
	}
	return session, true
}
