package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
)

// ServiceNarrative - имя сервиса нарративной генерации в журнале стоимости.
const ServiceNarrative = "narrative"

// scriptSystemPrompt - фиксированный шаблон запроса сценария.
// Содержимое промптов не является предметом этого сервиса и намеренно минимально.
const scriptSystemPrompt = `You are an educational video script writer.
Given a topic and a set of teacher-supplied facts, write a short video script of exactly four segments:
hook, concept, process, conclusion. Respond with JSON only:
{"segments":[{"kind":"hook","narration":"...","target_seconds":8,"visual_guidance":"...","key_concepts":["..."]}, ...]}
The four segments must appear in order hook, concept, process, conclusion and their target_seconds must sum to the requested duration.`

// ScriptInput - входные данные этапа сценария.
type ScriptInput struct {
	SessionID  uuid.UUID
	Topic      string
	Facts      string
	TargetSecs int
}

// ScriptOutput - результат этапа сценария: четыре сегмента в каноническом порядке.
type ScriptOutput struct {
	Segments []*models.Segment
}

// NarrativeAgent генерирует сценарий видео из фактов преподавателя.
type NarrativeAgent interface {
	Run(ctx context.Context, input ScriptInput) (*ScriptOutput, models.StageCost, error)
}

// narrativeAgent - реализация поверх AIClient с ретраями.
type narrativeAgent struct {
	ai          AIClient
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewNarrativeAgent создает агента нарративного этапа.
func NewNarrativeAgent(ai AIClient, maxAttempts int, retryDelay time.Duration, logger *zap.Logger) NarrativeAgent {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &narrativeAgent{
		ai:          ai,
		logger:      logger.Named("NarrativeAgent"),
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// scriptResponse - ожидаемая структура ответа модели.
type scriptResponse struct {
	Segments []struct {
		Kind           string   `json:"kind"`
		Narration      string   `json:"narration"`
		TargetSeconds  float64  `json:"target_seconds"`
		VisualGuidance string   `json:"visual_guidance"`
		KeyConcepts    []string `json:"key_concepts"`
	} `json:"segments"`
}

// Run генерирует сценарий; невалидный JSON считается неудачной попыткой и ретраится.
func (a *narrativeAgent) Run(ctx context.Context, input ScriptInput) (*ScriptOutput, models.StageCost, error) {
	log := a.logger.With(zap.String("session_id", input.SessionID.String()))

	userInput := fmt.Sprintf("Topic: %s\nTarget duration: %d seconds\nFacts:\n%s",
		input.Topic, input.TargetSecs, input.Facts)

	cost := models.StageCost{Service: ServiceNarrative}
	var lastErr error

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(a.retryDelay * time.Duration(attempt-1)):
			case <-ctx.Done():
				return nil, cost, ctx.Err()
			}
		}

		text, usage, err := a.ai.GenerateText(ctx, scriptSystemPrompt, userInput)
		cost.AmountUSD += usage.EstimatedCostUSD
		cost.UnitDetail = fmt.Sprintf("tokens=%d attempts=%d", usage.TotalTokens, attempt)
		if err != nil {
			lastErr = err
			log.Warn("Script generation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		segments, err := a.parseScript(input, text)
		if err != nil {
			lastErr = err
			log.Warn("Script response parsing failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		log.Info("Script generated", zap.Int("segments", len(segments)), zap.Int("attempt", attempt))
		return &ScriptOutput{Segments: segments}, cost, nil
	}

	return nil, cost, fmt.Errorf("сценарий не сгенерирован за %d попыток: %w", a.maxAttempts, lastErr)
}

// parseScript разбирает ответ модели и приводит сегменты к каноническому порядку.
func (a *narrativeAgent) parseScript(input ScriptInput, text string) ([]*models.Segment, error) {
	var resp scriptResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Errorf("невалидный JSON сценария: %w", err)
	}
	if len(resp.Segments) != models.SegmentCount {
		return nil, fmt.Errorf("ожидалось %d сегментов, получено %d", models.SegmentCount, len(resp.Segments))
	}

	byKind := make(map[models.SegmentKind]int, len(resp.Segments))
	for i, seg := range resp.Segments {
		byKind[models.SegmentKind(seg.Kind)] = i
	}

	segments := make([]*models.Segment, 0, models.SegmentCount)
	for idx, kind := range models.SegmentOrder {
		i, ok := byKind[kind]
		if !ok {
			return nil, fmt.Errorf("в ответе отсутствует сегмент '%s'", kind)
		}
		raw := resp.Segments[i]
		if strings.TrimSpace(raw.Narration) == "" {
			return nil, fmt.Errorf("пустая нарративная озвучка сегмента '%s'", kind)
		}
		segments = append(segments, &models.Segment{
			ID:             uuid.New(),
			SessionID:      input.SessionID,
			Kind:           kind,
			Index:          idx,
			Narration:      raw.Narration,
			TargetSecs:     raw.TargetSeconds,
			VisualGuidance: raw.VisualGuidance,
			KeyConcepts:    raw.KeyConcepts,
		})
	}
	return segments, nil
}

// extractJSON вырезает JSON из ответа, обрезая markdown-ограждения и преамбулу.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		return strings.TrimSpace(text)
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
