package progress

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// sendBufferSize - глубина очереди исходящих сообщений одного клиента.
const sendBufferSize = 16

// Client - одно WebSocket соединение, подписанное на события сессии.
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	send      chan []byte
}

// Send возвращает канал исходящих сообщений клиента. Канал закрывает хаб.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Hub управляет активными WebSocket подписками на прогресс сессий.
// Одна сессия может иметь несколько подписчиков одновременно.
type Hub struct {
	subscribers map[string]map[*Client]struct{} // Карта sessionID -> множество клиентов
	register    chan *Client
	unregister  chan *Client
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewHub создает и запускает новый хаб подписок.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger.Named("ProgressHub"),
	}
	go h.run()
	return h
}

// run - основной цикл хаба: регистрация и дерегистрация подписчиков.
func (h *Hub) run() {
	h.logger.Info("Progress hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.subscribers[client.SessionID] == nil {
				h.subscribers[client.SessionID] = make(map[*Client]struct{})
			}
			h.subscribers[client.SessionID][client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("Subscriber registered", zap.String("session_id", client.SessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.subscribers[client.SessionID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
					if len(set) == 0 {
						delete(h.subscribers, client.SessionID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("Subscriber unregistered", zap.String("session_id", client.SessionID))
		}
	}
}

// Subscribe регистрирует новое соединение как подписчика сессии.
func (h *Hub) Subscribe(sessionID string, conn *websocket.Conn) *Client {
	client := &Client{
		SessionID: sessionID,
		Conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}
	h.register <- client
	return client
}

// Unsubscribe удаляет подписчика. Закрытие соединения остается за вызывающим.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// Broadcast рассылает сообщение всем подписчикам сессии.
// Возвращает число подписчиков, получивших сообщение в очередь.
func (h *Hub) Broadcast(sessionID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.subscribers[sessionID] {
		select {
		case client.send <- message:
			delivered++
		default:
			// Очередь переполнена: клиент не успевает читать, сообщение пропускается.
			// Актуальное состояние он получит из кэша последнего события.
			h.logger.Warn("Subscriber send queue full, dropping message",
				zap.String("session_id", sessionID))
		}
	}
	return delivered
}

// SubscriberCount возвращает число активных подписчиков сессии.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}
