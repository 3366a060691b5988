package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/storage"
)

// ServiceValidator - имя сервиса валидации в журнале стоимости.
const ServiceValidator = "validator"

// Константы цен vision-запросов
const (
	pricePerMillionInputTokensUSD  = 2.5
	pricePerMillionOutputTokensUSD = 10.0
)

// ErrValidationCallFailed - сам vision-вызов не удался (транспорт/провайдер).
var ErrValidationCallFailed = errors.New("vision validation call failed")

// visionSystemPrompt - фиксированный шаблон vision-проверки.
const visionSystemPrompt = `You are a reviewer of educational visuals.
Evaluate the image against the narration and key concepts on the requested criteria.
For each criterion respond with passed (bool), confidence (0..1) and an optional short issue.
Respond with JSON only: {"criteria":[{"name":"...","passed":true,"confidence":0.9,"issue":""}]}`

// Item - один визуал на проверку вместе с его нарративным контекстом.
type Item struct {
	Asset       *models.Asset
	Narration   string
	KeyConcepts []string
}

// VisionValidator проверяет визуалы по независимым критериям.
type VisionValidator interface {
	// ValidateAssets проверяет все ассеты параллельно по полному набору критериев.
	// Результаты возвращаются в порядке отправки, ключуются по Asset ID.
	ValidateAssets(ctx context.Context, items []Item, onDone func(completed, total int)) ([]models.AssetVerdict, models.StageCost, error)
	// QuickCheck - сокращенная проверка аварийной регенерации (меньше критериев,
	// та же семантика pass/fail).
	QuickCheck(ctx context.Context, item Item) (bool, models.StageCost, error)
}

// visionValidator - реализация поверх OpenAI vision chat.
type visionValidator struct {
	client  *openaigo.Client
	model   string
	store   storage.AssetStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewVisionValidator создает валидатор визуалов.
func NewVisionValidator(apiKey, baseURL, model string, store storage.AssetStore, timeout time.Duration, logger *zap.Logger) VisionValidator {
	clientConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &visionValidator{
		client:  openaigo.NewClientWithConfig(clientConfig),
		model:   model,
		store:   store,
		logger:  logger.Named("VisionValidator"),
		timeout: timeout,
	}
}

// ValidateAssets - полностью параллельная проверка; порядок завершения не важен,
// результаты сводятся в порядок отправки по слотам.
func (v *visionValidator) ValidateAssets(ctx context.Context, items []Item, onDone func(completed, total int)) ([]models.AssetVerdict, models.StageCost, error) {
	verdicts := make([]models.AssetVerdict, len(items))
	cost := models.StageCost{Service: ServiceValidator}

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for i, item := range items {
		wg.Add(1)
		go func(slot int, item Item) {
			defer wg.Done()

			results, c, err := v.evaluate(ctx, item, models.AllCriteria)
			mu.Lock()
			defer mu.Unlock()
			cost.AmountUSD += c.AmountUSD

			if err != nil {
				// Транспортный сбой проверки трактуем как максимально строгий вердикт:
				// severity 0 уводит ассет в гарантированный фолбэк, а не роняет сессию.
				v.logger.Warn("Vision call failed, treating asset as fully failed",
					zap.String("asset_id", item.Asset.ID.String()), zap.Error(err))
				verdicts[slot] = models.AssetVerdict{
					AssetID:  item.Asset.ID,
					Results:  failedResults(item, err),
					Severity: 0,
				}
			} else {
				verdicts[slot] = models.AssetVerdict{
					AssetID:  item.Asset.ID,
					Results:  results,
					Severity: models.ComputeSeverity(results),
				}
			}
			completed++
			if onDone != nil {
				onDone(completed, len(items))
			}
		}(i, item)
	}
	wg.Wait()

	cost.UnitDetail = fmt.Sprintf("vision_checks=%d", len(items))
	return verdicts, cost, nil
}

// QuickCheck проверяет ассет по сокращенному набору критериев.
func (v *visionValidator) QuickCheck(ctx context.Context, item Item) (bool, models.StageCost, error) {
	results, cost, err := v.evaluate(ctx, item, models.QuickCheckCriteria)
	if err != nil {
		return false, cost, err
	}
	for _, r := range results {
		if !r.Passed {
			return false, cost, nil
		}
	}
	return true, cost, nil
}

// evaluate - один vision-вызов по указанному набору критериев.
func (v *visionValidator) evaluate(ctx context.Context, item Item, criteria []models.ValidationCriterion) ([]models.ValidationResult, models.StageCost, error) {
	cost := models.StageCost{Service: ServiceValidator}

	imageURL, err := v.store.ReadURL(item.Asset.StorageRef)
	if err != nil {
		return nil, cost, fmt.Errorf("%w: %v", ErrValidationCallFailed, err)
	}

	names := make([]string, len(criteria))
	for i, c := range criteria {
		names[i] = string(c)
	}
	userPrompt := fmt.Sprintf("Criteria: %s\nNarration: %s\nKey concepts: %s",
		strings.Join(names, ", "), item.Narration, strings.Join(item.KeyConcepts, ", "))

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.client.CreateChatCompletion(callCtx, openaigo.ChatCompletionRequest{
		Model: v.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{
				Role: openaigo.ChatMessageRoleUser,
				MultiContent: []openaigo.ChatMessagePart{
					{Type: openaigo.ChatMessagePartTypeText, Text: userPrompt},
					{
						Type:     openaigo.ChatMessagePartTypeImageURL,
						ImageURL: &openaigo.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, cost, fmt.Errorf("%w: %v", ErrValidationCallFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, cost, fmt.Errorf("%w: пустой ответ", ErrValidationCallFailed)
	}

	cost.AmountUSD = float64(resp.Usage.PromptTokens)*pricePerMillionInputTokensUSD/1_000_000.0 +
		float64(resp.Usage.CompletionTokens)*pricePerMillionOutputTokensUSD/1_000_000.0

	results, err := parseVerdict(item, criteria, resp.Choices[0].Message.Content)
	if err != nil {
		return nil, cost, fmt.Errorf("%w: %v", ErrValidationCallFailed, err)
	}
	return results, cost, nil
}

// verdictResponse - ожидаемая структура ответа vision-модели.
type verdictResponse struct {
	Criteria []struct {
		Name       string  `json:"name"`
		Passed     bool    `json:"passed"`
		Confidence float64 `json:"confidence"`
		Issue      string  `json:"issue"`
	} `json:"criteria"`
}

// parseVerdict разбирает ответ модели; каждый запрошенный критерий обязан присутствовать.
func parseVerdict(item Item, criteria []models.ValidationCriterion, text string) ([]models.ValidationResult, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}

	var resp verdictResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("невалидный JSON вердикта: %w", err)
	}

	byName := make(map[string]int, len(resp.Criteria))
	for i, c := range resp.Criteria {
		byName[c.Name] = i
	}

	results := make([]models.ValidationResult, 0, len(criteria))
	for _, criterion := range criteria {
		i, ok := byName[string(criterion)]
		if !ok {
			return nil, fmt.Errorf("в вердикте отсутствует критерий '%s'", criterion)
		}
		raw := resp.Criteria[i]
		conf := raw.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		results = append(results, models.ValidationResult{
			AssetID:    item.Asset.ID,
			Criterion:  criterion,
			Passed:     raw.Passed,
			Confidence: conf,
			Issue:      raw.Issue,
		})
	}
	return results, nil
}

// failedResults формирует синтетический полностью проваленный вердикт
// для случая транспортного сбоя vision-вызова.
func failedResults(item Item, err error) []models.ValidationResult {
	results := make([]models.ValidationResult, 0, len(models.AllCriteria))
	for _, criterion := range models.AllCriteria {
		results = append(results, models.ValidationResult{
			AssetID:    item.Asset.ID,
			Criterion:  criterion,
			Passed:     false,
			Confidence: 0,
			Issue:      fmt.Sprintf("vision call failed: %v", err),
		})
	}
	return results
}
