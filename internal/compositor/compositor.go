package compositor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// ServiceCompositor - имя сервиса композиции в журнале стоимости.
const ServiceCompositor = "compositor"

// pricePerRenderUSD - оценочная цена одного рендера.
const pricePerRenderUSD = 0.10

// ErrCompositionFailed - фатальная ошибка рендера. Композиция не лечится:
// это инфраструктурный сбой, а не проблема качества контента.
var ErrCompositionFailed = errors.New("video composition failed")

// SegmentInput - один сегмент в задании на композицию.
type SegmentInput struct {
	SegmentID  uuid.UUID `json:"segment_id"`
	VisualURL  string    `json:"visual_url"`
	AudioURL   string    `json:"audio_url"`
	DurationS  float64   `json:"duration_seconds"`
	Narration  string    `json:"narration"`
}

// Request - задание на композицию финального видео.
type Request struct {
	SessionID  uuid.UUID      `json:"session_id"`
	Segments   []SegmentInput `json:"segments"`
	FPS        int            `json:"fps"`
	Resolution string         `json:"resolution"`
}

// Result - результат композиции.
type Result struct {
	// StorageRef - локатор финального видео, возвращенный рендер-сервисом.
	StorageRef string
	DurationS  float64
}

// Compositor - черный ящик рендера: принимает утвержденные ассеты, возвращает
// финальное видео либо фатальную ошибку.
type Compositor interface {
	Compose(ctx context.Context, req Request) (*Result, models.StageCost, error)
}

// httpCompositor - клиент внешнего рендер-сервиса.
type httpCompositor struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPCompositor создает клиент рендер-сервиса.
func NewHTTPCompositor(baseURL string, timeout time.Duration, logger *zap.Logger) Compositor {
	return &httpCompositor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("Compositor"),
	}
}

// composeResponse - ответ рендер-сервиса.
type composeResponse struct {
	StorageRef string  `json:"storage_ref"`
	DurationS  float64 `json:"duration_seconds"`
	Error      string  `json:"error"`
}

// Compose отправляет задание рендер-сервису и ждет результат.
func (c *httpCompositor) Compose(ctx context.Context, req Request) (*Result, models.StageCost, error) {
	log := c.logger.With(zap.String("session_id", req.SessionID.String()))
	cost := models.StageCost{Service: ServiceCompositor}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, cost, fmt.Errorf("%w: marshal request: %v", ErrCompositionFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compose", bytes.NewReader(reqBody))
	if err != nil {
		return nil, cost, fmt.Errorf("%w: create request: %v", ErrCompositionFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info("Sending composition request", zap.Int("segments", len(req.Segments)))
	started := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Error("Composition request failed", zap.Error(err))
		return nil, cost, fmt.Errorf("%w: %v", ErrCompositionFailed, err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Error("Compositor returned non-OK status",
			zap.Int("status_code", resp.StatusCode), zap.ByteString("response_body", bodyBytes))
		return nil, cost, fmt.Errorf("%w: status %d: %s", ErrCompositionFailed, resp.StatusCode, string(bodyBytes))
	}
	if readErr != nil {
		return nil, cost, fmt.Errorf("%w: read response: %v", ErrCompositionFailed, readErr)
	}

	var composeResp composeResponse
	if err := json.Unmarshal(bodyBytes, &composeResp); err != nil {
		return nil, cost, fmt.Errorf("%w: decode response: %v", ErrCompositionFailed, err)
	}
	if composeResp.Error != "" {
		return nil, cost, fmt.Errorf("%w: %s", ErrCompositionFailed, composeResp.Error)
	}
	if composeResp.StorageRef == "" {
		return nil, cost, fmt.Errorf("%w: empty storage ref in response", ErrCompositionFailed)
	}

	cost.AmountUSD = pricePerRenderUSD
	cost.UnitDetail = fmt.Sprintf("renders=1 segments=%d", len(req.Segments))

	log.Info("Composition finished",
		zap.Duration("duration", time.Since(started)),
		zap.String("storage_ref", composeResp.StorageRef))

	return &Result{StorageRef: composeResp.StorageRef, DurationS: composeResp.DurationS}, cost, nil
}
