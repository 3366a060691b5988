package healing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/agents"
	"eduvideo-server/internal/models"
	"eduvideo-server/internal/repository"
	"eduvideo-server/internal/validator"
)

// Resolution - итог лечения одного провалившего валидацию ассета.
type Resolution struct {
	Strategy models.HealingStrategy
	// Asset - разрешенный ассет, которым вытеснен провалившийся.
	Asset *models.Asset
	// Attempts - число аварийных попыток (0, если стратегия не emergency).
	Attempts int
}

// Engine - движок самовосстановления: выбирает стратегию по severity
// и доводит каждый помеченный ассет до разрешения. Terminal-стратегия
// TextSlide гарантирует, что лечение всегда завершается успехом.
type Engine struct {
	visual    agents.VisualAgent
	validator validator.VisionValidator
	assets    repository.AssetRepository
	compLog   repository.CompositionLogRepository
	slides    *TextSlideGenerator
	logger    *zap.Logger
}

// NewEngine создает движок самовосстановления.
func NewEngine(
	visual agents.VisualAgent,
	vv validator.VisionValidator,
	assets repository.AssetRepository,
	compLog repository.CompositionLogRepository,
	slides *TextSlideGenerator,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		visual:    visual,
		validator: vv,
		assets:    assets,
		compLog:   compLog,
		slides:    slides,
		logger:    logger.Named("HealingEngine"),
	}
}

// Heal разрешает один провалившийся ассет.
// pool - прошедшие валидацию и еще не использованные варианты того же сегмента.
// Каждое предпринятое действие пишется в журнал композиции.
func (e *Engine) Heal(
	ctx context.Context,
	session *models.Session,
	segment *models.Segment,
	flagged *models.Asset,
	severity float64,
	pool []*models.Asset,
) (*Resolution, models.StageCost, error) {
	log := e.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.String("segment_id", segment.ID.String()),
		zap.String("flagged_asset_id", flagged.ID.String()),
		zap.Float64("severity", severity),
	)
	cost := models.StageCost{Service: agents.ServiceVisual}

	strategy := ChooseStrategy(severity)
	log.Info("Healing strategy selected", zap.String("strategy", string(strategy)))

	if strategy == models.StrategySubstitute {
		res, err := e.substitute(ctx, session, segment, flagged, severity, pool)
		if err != nil {
			return nil, cost, err
		}
		if res != nil {
			return res, cost, nil
		}
		// Подходящего готового варианта нет - проваливаемся в аварийную генерацию
		log.Info("No unused validated variant available, falling through to emergency generate")
		strategy = models.StrategyEmergencyGenerate
	}

	if strategy == models.StrategyEmergencyGenerate {
		res, c, err := e.emergencyGenerate(ctx, session, segment, flagged, severity)
		cost = cost.Add(c)
		if err != nil {
			return nil, cost, err
		}
		if res != nil {
			return res, cost, nil
		}
		// Бюджет аварийных попыток исчерпан - терминальный фолбэк
	}

	res, err := e.textSlide(ctx, session, segment, flagged, severity)
	if err != nil {
		return nil, cost, err
	}
	return res, cost, nil
}

// substitute ищет лучший неиспользованный прошедший валидацию вариант сегмента.
// Возвращает nil без ошибки, если кандидатов нет.
func (e *Engine) substitute(
	ctx context.Context,
	session *models.Session,
	segment *models.Segment,
	flagged *models.Asset,
	severity float64,
	pool []*models.Asset,
) (*Resolution, error) {
	var chosen *models.Asset
	for _, candidate := range pool {
		if candidate.ID == flagged.ID {
			continue
		}
		if candidate.Status == models.AssetStatusValidated {
			chosen = candidate
			break
		}
	}
	if chosen == nil {
		return nil, nil
	}

	if err := e.assets.Supersede(ctx, flagged.ID, chosen.ID); err != nil {
		return nil, fmt.Errorf("ошибка подмены ассета: %w", err)
	}

	chosenID := chosen.ID
	if err := e.compLog.AppendAction(ctx, &models.HealingAction{
		SessionID:     session.ID,
		SegmentID:     segment.ID,
		Strategy:      models.StrategySubstitute,
		Attempt:       1,
		BeforeAssetID: flagged.ID,
		AfterAssetID:  &chosenID,
		Severity:      severity,
		Note:          fmt.Sprintf("substituted with variant %d", chosen.VariantIndex),
	}); err != nil {
		return nil, err
	}

	return &Resolution{Strategy: models.StrategySubstitute, Asset: chosen}, nil
}

// emergencyGenerate - до EmergencyMaxAttempts регенераций с quick-check.
// Возвращает nil без ошибки, если все попытки провалились.
func (e *Engine) emergencyGenerate(
	ctx context.Context,
	session *models.Session,
	segment *models.Segment,
	flagged *models.Asset,
	severity float64,
) (*Resolution, models.StageCost, error) {
	log := e.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.String("segment_id", segment.ID.String()),
	)
	cost := models.StageCost{Service: agents.ServiceVisual}

	for attempt := 1; attempt <= models.EmergencyMaxAttempts; attempt++ {
		result, c, genErr := e.visual.GenerateOne(ctx, agents.VisualRequest{
			SessionID:    session.ID,
			SegmentID:    segment.ID,
			SegmentIndex: segment.Index,
			VariantIndex: 100 + attempt, // Аварийные варианты нумеруются отдельно от базового fan-out
			Prompt:       narrowPrompt(segment),
		})
		cost = cost.Add(c)

		if genErr != nil {
			// Сбой генерации (включая таймаут) расходует попытку
			log.Warn("Emergency generation attempt failed", zap.Int("attempt", attempt), zap.Error(genErr))
			if err := e.appendFailedAttempt(ctx, session, segment, flagged, severity, attempt,
				fmt.Sprintf("generation failed: %v", genErr)); err != nil {
				return nil, cost, err
			}
			continue
		}

		segID := segment.ID
		newAsset := &models.Asset{
			ID:           uuid.New(),
			SessionID:    session.ID,
			SegmentID:    &segID,
			Kind:         models.AssetKindVisual,
			VariantIndex: result.VariantIndex,
			StorageRef:   result.StorageRef,
			Status:       models.AssetStatusGenerated,
		}
		if err := e.assets.Create(ctx, newAsset); err != nil {
			return nil, cost, err
		}

		passed, qc, qcErr := e.validator.QuickCheck(ctx, validator.Item{
			Asset:       newAsset,
			Narration:   segment.Narration,
			KeyConcepts: segment.KeyConcepts,
		})
		cost = cost.Add(qc)

		if qcErr != nil || !passed {
			note := "quick check failed"
			if qcErr != nil {
				note = fmt.Sprintf("quick check call failed: %v", qcErr)
			}
			log.Warn("Emergency attempt rejected by quick check", zap.Int("attempt", attempt))
			if err := e.assets.UpdateStatus(ctx, newAsset.ID, models.AssetStatusGenerated, models.AssetStatusRejected); err != nil {
				return nil, cost, err
			}
			newAsset.Status = models.AssetStatusRejected
			if err := e.appendFailedAttempt(ctx, session, segment, flagged, severity, attempt, note); err != nil {
				return nil, cost, err
			}
			continue
		}

		// Попытка удалась: новый ассет валиден, провалившийся вытесняется
		if err := e.assets.UpdateStatus(ctx, newAsset.ID, models.AssetStatusGenerated, models.AssetStatusValidated); err != nil {
			return nil, cost, err
		}
		newAsset.Status = models.AssetStatusValidated
		if err := e.assets.Supersede(ctx, flagged.ID, newAsset.ID); err != nil {
			return nil, cost, err
		}

		newID := newAsset.ID
		if err := e.compLog.AppendAction(ctx, &models.HealingAction{
			SessionID:     session.ID,
			SegmentID:     segment.ID,
			Strategy:      models.StrategyEmergencyGenerate,
			Attempt:       attempt,
			BeforeAssetID: flagged.ID,
			AfterAssetID:  &newID,
			Severity:      severity,
			Note:          "quick check passed",
		}); err != nil {
			return nil, cost, err
		}

		log.Info("Emergency generation succeeded", zap.Int("attempt", attempt))
		return &Resolution{
			Strategy: models.StrategyEmergencyGenerate,
			Asset:    newAsset,
			Attempts: attempt,
		}, cost, nil
	}

	return nil, cost, nil
}

// textSlide - терминальная стратегия: всегда успешна.
func (e *Engine) textSlide(
	ctx context.Context,
	session *models.Session,
	segment *models.Segment,
	flagged *models.Asset,
	severity float64,
) (*Resolution, error) {
	slide := e.slides.Generate(ctx, session.ID, segment)
	if err := e.assets.Create(ctx, slide); err != nil {
		return nil, err
	}
	if err := e.assets.Supersede(ctx, flagged.ID, slide.ID); err != nil {
		return nil, err
	}

	slideID := slide.ID
	if err := e.compLog.AppendAction(ctx, &models.HealingAction{
		SessionID:     session.ID,
		SegmentID:     segment.ID,
		Strategy:      models.StrategyTextSlide,
		Attempt:       1,
		BeforeAssetID: flagged.ID,
		AfterAssetID:  &slideID,
		Severity:      severity,
		Note:          "terminal fallback",
	}); err != nil {
		return nil, err
	}

	return &Resolution{Strategy: models.StrategyTextSlide, Asset: slide}, nil
}

// appendFailedAttempt пишет в журнал неудачную аварийную попытку (after_asset_id пуст).
func (e *Engine) appendFailedAttempt(
	ctx context.Context,
	session *models.Session,
	segment *models.Segment,
	flagged *models.Asset,
	severity float64,
	attempt int,
	note string,
) error {
	return e.compLog.AppendAction(ctx, &models.HealingAction{
		SessionID:     session.ID,
		SegmentID:     segment.ID,
		Strategy:      models.StrategyEmergencyGenerate,
		Attempt:       attempt,
		BeforeAssetID: flagged.ID,
		Severity:      severity,
		Note:          note,
	})
}

// narrowPrompt сужает промпт регенерации до главного концепта сегмента.
func narrowPrompt(segment *models.Segment) string {
	main := ""
	if len(segment.KeyConcepts) > 0 {
		main = segment.KeyConcepts[0]
	}
	guidance := segment.VisualGuidance
	if guidance == "" {
		guidance = segment.Narration
	}
	return strings.TrimSpace(fmt.Sprintf(
		"Simple, clear educational illustration of %s. %s. Flat style, no text overlays, single focal subject.",
		main, guidance))
}
