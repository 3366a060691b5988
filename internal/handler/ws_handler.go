package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/orchestrator"
	"eduvideo-server/internal/progress"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: сверять Origin со списком разрешенных доменов из конфига
		return true
	},
}

// WSHandler обрабатывает WebSocket подписки на прогресс сессий.
type WSHandler struct {
	hub    *progress.Hub
	cache  progress.LastEventCache
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewWSHandler создает обработчик WebSocket подписок.
func NewWSHandler(hub *progress.Hub, cache progress.LastEventCache, orch *orchestrator.Orchestrator, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		cache:  cache,
		orch:   orch,
		logger: logger.Named("WSHandler"),
	}
}

// ServeWS обновляет соединение до WebSocket и подписывает его на сессию.
// Аутентификация выполняется middleware до этого обработчика.
func (h *WSHandler) ServeWS(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Query("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid session_id"})
		return
	}

	session, err := h.orch.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, APIError{Message: "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to load session"})
		return
	}
	if session.UserID != c.GetString(userIDKey) {
		c.JSON(http.StatusForbidden, APIError{Message: "session belongs to another user"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже записал ответ об ошибке
		h.logger.Error("Failed to upgrade connection",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}

	log := h.logger.With(zap.String("session_id", sessionID.String()))
	log.Info("WebSocket connection established")

	client := h.hub.Subscribe(sessionID.String(), conn)

	// Новому подписчику сразу отправляется последнее известное событие,
	// чтобы переподключение не теряло текущее состояние
	if event, err := h.cache.Get(context.Background(), sessionID.String()); err == nil {
		if body, err := json.Marshal(event); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.TextMessage, body)
		}
	}

	go h.writePump(client, log)
	go h.readPump(client, log)
}

// readPump откачивает входящие сообщения; клиентские сообщения игнорируются,
// чтение нужно для обработки pong и закрытия соединения.
func (h *WSHandler) readPump(client *progress.Client, log *zap.Logger) {
	defer func() {
		h.hub.Unsubscribe(client)
		_ = client.Conn.Close()
		log.Debug("readPump finished")
	}()
	client.Conn.SetReadLimit(maxMessageSize)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump откачивает сообщения из канала подписчика в соединение.
func (h *WSHandler) writePump(client *progress.Client, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		log.Debug("writePump finished")
	}()

	for {
		select {
		case message, ok := <-client.Send():
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
