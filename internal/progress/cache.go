package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// ErrNoCachedEvent - для сессии еще нет ни одного события.
var ErrNoCachedEvent = errors.New("no cached progress event for session")

// LastEventCache хранит последнее событие прогресса на сессию.
// События эфемерны: polling-клиентам и переподключившимся подписчикам
// нужен только актуальный снимок, не история.
type LastEventCache interface {
	Set(ctx context.Context, event models.ProgressEvent) error
	Get(ctx context.Context, sessionID string) (*models.ProgressEvent, error)
}

// redisEventCache реализует LastEventCache поверх Redis.
type redisEventCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisEventCache создает кэш последних событий.
func NewRedisEventCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) LastEventCache {
	return &redisEventCache{client: client, ttl: ttl, logger: logger.Named("ProgressCache")}
}

func cacheKey(sessionID string) string {
	return "progress:last:" + sessionID
}

// Set перезаписывает последнее событие сессии.
func (c *redisEventCache) Set(ctx context.Context, event models.ProgressEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события для кэша: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(event.SessionID), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи события в Redis: %w", err)
	}
	return nil
}

// Get возвращает последнее событие сессии.
func (c *redisEventCache) Get(ctx context.Context, sessionID string) (*models.ProgressEvent, error) {
	body, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCachedEvent
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения события из Redis: %w", err)
	}

	var event models.ProgressEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("Corrupted cached progress event", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("ошибка десериализации кэшированного события: %w", err)
	}
	return &event, nil
}
