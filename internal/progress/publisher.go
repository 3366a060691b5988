package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// Publisher определяет интерфейс публикации событий прогресса.
type Publisher interface {
	Publish(ctx context.Context, event models.ProgressEvent) error
}

// rabbitMQPublisher реализует Publisher поверх RabbitMQ.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQPublisher создает паблишер событий прогресса.
// Очередь объявляется здесь с теми же параметрами, что у консьюмера,
// чтобы система не зависела от порядка запуска.
func NewRabbitMQPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("progress publisher: не удалось открыть канал: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("progress publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log := logger.Named("ProgressPublisher")
	log.Info("Progress queue declared", zap.String("queue", queueName))
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: log}, nil
}

// Publish сериализует событие и публикует его в очередь прогресса.
func (p *rabbitMQPublisher) Publish(ctx context.Context, event models.ProgressEvent) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события прогресса для сессии %s: %w", event.SessionID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Попытка публикации с retry до 3 раз
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (используем default)
			p.queueName, // routing key (имя очереди)
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "eduvideo-server",
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Failed to publish progress event, retrying",
			zap.Int("attempt", attempt),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
}
