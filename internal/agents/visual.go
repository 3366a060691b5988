package agents

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/storage"
)

// ServiceVisual - имя сервиса генерации изображений в журнале стоимости.
const ServiceVisual = "visual"

// pricePerImageUSD - оценочная цена одного сгенерированного изображения.
const pricePerImageUSD = 0.04

// ErrImageGenerationFailed - ошибка при генерации изображения.
var ErrImageGenerationFailed = errors.New("image generation failed")

// VisualRequest - один запрос генерации визуала, помеченный индексами на отправке.
// Индексы обязательны: результаты сводятся по ним, а не по порядку прихода.
type VisualRequest struct {
	SessionID    uuid.UUID
	SegmentID    uuid.UUID
	SegmentIndex int
	VariantIndex int
	Prompt       string
}

// VisualResult - результат одного запроса генерации.
// Err != nil означает частичный сбой fan-out, не фатальный для этапа.
type VisualResult struct {
	SegmentIndex int
	VariantIndex int
	SegmentID    uuid.UUID
	StorageRef   string
	Err          error
}

// VisualAgent генерирует визуалы по описаниям сегментов.
type VisualAgent interface {
	// GenerateBatch выполняет fan-out: по одному вызову на запрос, параллельно.
	// Результаты возвращаются в порядке отправки независимо от порядка завершения.
	GenerateBatch(ctx context.Context, reqs []VisualRequest, onDone func(completed, total int)) ([]VisualResult, models.StageCost, error)
	// GenerateOne выполняет одиночную генерацию (аварийная регенерация при лечении).
	GenerateOne(ctx context.Context, req VisualRequest) (*VisualResult, models.StageCost, error)
}

// VisualBackend - низкоуровневый бэкенд, возвращающий байты изображения.
type VisualBackend interface {
	generate(ctx context.Context, prompt string) ([]byte, error)
}

// visualAgent - реализация VisualAgent поверх выбранного бэкенда и хранилища.
type visualAgent struct {
	backend VisualBackend
	store   storage.AssetStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewVisualAgent создает агента визуального этапа.
func NewVisualAgent(backend VisualBackend, store storage.AssetStore, timeout time.Duration, logger *zap.Logger) VisualAgent {
	return &visualAgent{
		backend: backend,
		store:   store,
		logger:  logger.Named("VisualAgent"),
		timeout: timeout,
	}
}

// GenerateBatch - параллельная генерация с явной сводкой результатов по индексам.
func (a *visualAgent) GenerateBatch(ctx context.Context, reqs []VisualRequest, onDone func(completed, total int)) ([]VisualResult, models.StageCost, error) {
	results := make([]VisualResult, len(reqs))
	cost := models.StageCost{Service: ServiceVisual}

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	generated := 0

	for i, req := range reqs {
		wg.Add(1)
		go func(slot int, req VisualRequest) {
			defer wg.Done()

			res, c, err := a.GenerateOne(ctx, req)
			mu.Lock()
			defer mu.Unlock()

			cost.AmountUSD += c.AmountUSD
			if err != nil {
				results[slot] = VisualResult{
					SegmentIndex: req.SegmentIndex,
					VariantIndex: req.VariantIndex,
					SegmentID:    req.SegmentID,
					Err:          err,
				}
			} else {
				results[slot] = *res
				generated++
			}
			completed++
			if onDone != nil {
				onDone(completed, len(reqs))
			}
		}(i, req)
	}
	wg.Wait()

	// Приводим к каноническому порядку (индекс сегмента, затем индекс варианта).
	// Слоты уже в порядке отправки, но сводка по индексам - явный контракт этапа.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SegmentIndex != results[j].SegmentIndex {
			return results[i].SegmentIndex < results[j].SegmentIndex
		}
		return results[i].VariantIndex < results[j].VariantIndex
	})

	cost.UnitDetail = fmt.Sprintf("images=%d", generated)
	return results, cost, nil
}

// GenerateOne генерирует одно изображение и кладет его в хранилище.
func (a *visualAgent) GenerateOne(ctx context.Context, req VisualRequest) (*VisualResult, models.StageCost, error) {
	log := a.logger.With(
		zap.String("session_id", req.SessionID.String()),
		zap.Int("segment_index", req.SegmentIndex),
		zap.Int("variant_index", req.VariantIndex),
	)
	cost := models.StageCost{Service: ServiceVisual}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, err := a.backend.generate(callCtx, req.Prompt)
	if err != nil {
		log.Error("Image generation call failed", zap.Error(err))
		return nil, cost, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(data) == 0 {
		return nil, cost, fmt.Errorf("%w: backend returned empty data", ErrImageGenerationFailed)
	}
	cost.AmountUSD = pricePerImageUSD
	cost.UnitDetail = "images=1"

	ref := fmt.Sprintf("%s/visuals/%s-v%d-%s.png",
		req.SessionID, req.SegmentID, req.VariantIndex, uuid.NewString()[:8])
	if err := a.store.Put(ctx, ref, data); err != nil {
		return nil, cost, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}

	log.Info("Visual generated and stored", zap.String("ref", ref), zap.Int("size_bytes", len(data)))
	return &VisualResult{
		SegmentIndex: req.SegmentIndex,
		VariantIndex: req.VariantIndex,
		SegmentID:    req.SegmentID,
		StorageRef:   ref,
	}, cost, nil
}

// --- OpenAI image backend ---

// openAIImageBackend генерирует изображения через OpenAI Images API.
type openAIImageBackend struct {
	client *openaigo.Client
	model  string
	size   string
}

// NewOpenAIImageBackend создает бэкенд генерации изображений OpenAI.
func NewOpenAIImageBackend(apiKey, baseURL, model, size string) VisualBackend {
	clientConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &openAIImageBackend{
		client: openaigo.NewClientWithConfig(clientConfig),
		model:  model,
		size:   size,
	}
}

func (b *openAIImageBackend) generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := b.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          b.model,
		Size:           b.size,
		N:              1,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai image response is empty")
	}
	return base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
}

// --- SANA-style HTTP backend ---

// sanaAPIRequest - структура запроса к SANA-совместимому серверу изображений.
type sanaAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// sanaImageBackend генерирует изображения через plain-HTTP сервер.
type sanaImageBackend struct {
	baseURL string
	ratio   string
	client  *http.Client
}

// NewSanaImageBackend создает бэкенд SANA-совместимого сервера изображений.
func NewSanaImageBackend(baseURL, ratio string, timeout time.Duration) VisualBackend {
	return &sanaImageBackend{
		baseURL: baseURL,
		ratio:   ratio,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *sanaImageBackend) generate(ctx context.Context, prompt string) ([]byte, error) {
	reqBody, err := json.Marshal(sanaAPIRequest{Prompt: prompt, Ratio: b.ratio})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return bodyBytes, nil
}
