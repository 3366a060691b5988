package progress

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// Consumer читает события прогресса из RabbitMQ, кэширует последнее
// событие сессии и раздает его WebSocket подписчикам.
type Consumer struct {
	conn        *amqp.Connection
	hub         *Hub
	cache       LastEventCache
	queueName   string
	stopChannel chan struct{}
	logger      *zap.Logger
}

// NewConsumer создает консьюмера событий прогресса.
func NewConsumer(conn *amqp.Connection, hub *Hub, cache LastEventCache, queueName string, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:        conn,
		hub:         hub,
		cache:       cache,
		queueName:   queueName,
		stopChannel: make(chan struct{}),
		logger:      logger.Named("ProgressConsumer"),
	}
}

// StartConsuming начинает прослушивание очереди прогресса.
// Функция блокирующая, запускать в отдельной горутине.
func (c *Consumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	// Параметры очереди должны совпадать с паблишером (durable=true)
	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"eduvideo-progress-consumer", // consumer tag
		false,                        // auto-ack (подтверждаем вручную)
		false,                        // exclusive
		false,                        // no-local
		false,                        // no-wait
		nil,                          // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Progress consumer started", zap.String("queue", q.Name))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Info("RabbitMQ message channel closed")
				return nil
			}
			c.handleDelivery(d)

		case <-c.stopChannel:
			c.logger.Info("Progress consumer stop signal received")
			return nil
		}
	}
}

// handleDelivery обрабатывает одно сообщение очереди.
// Событие с невалидным телом отбрасывается без requeue: повторная доставка
// его не исправит, а актуальность важнее полноты.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	var event models.ProgressEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Warn("Failed to decode progress event, dropping", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if event.SessionID == "" {
		c.logger.Warn("Progress event without session_id, dropping")
		_ = d.Nack(false, false)
		return
	}

	if err := c.cache.Set(context.Background(), event); err != nil {
		// Кэш не критичен для доставки: логируем и раздаем дальше
		c.logger.Warn("Failed to cache progress event",
			zap.String("session_id", event.SessionID), zap.Error(err))
	}

	delivered := c.hub.Broadcast(event.SessionID, d.Body)
	c.logger.Debug("Progress event delivered",
		zap.String("session_id", event.SessionID),
		zap.String("type", event.Type),
		zap.Float64("progress", event.Progress),
		zap.Int("subscribers", delivered))

	_ = d.Ack(false)
}

// Stop останавливает консьюмера.
func (c *Consumer) Stop() {
	close(c.stopChannel)
}
