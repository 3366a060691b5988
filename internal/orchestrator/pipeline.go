package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/agents"
	"eduvideo-server/internal/compositor"
	"eduvideo-server/internal/cost"
	"eduvideo-server/internal/models"
	"eduvideo-server/internal/progress"
	"eduvideo-server/internal/validator"
	"eduvideo-server/internal/worker"
)

// flaggedSegment - сегмент, чей основной визуал не прошел валидацию.
type flaggedSegment struct {
	segment  *models.Segment
	asset    *models.Asset
	severity float64
	pool     []*models.Asset
}

// pipelineRun - состояние одного прогона конвейера.
// Живет в одной горутине; конкурентны только fan-out вызовы агентов.
type pipelineRun struct {
	session *models.Session
	tracker *cost.Tracker
	started time.Time
	cancel  *atomic.Bool

	segments  []*models.Segment
	assets    []*models.Asset                   // Визуалы в каноническом порядке (сегмент, вариант)
	bySegment map[uuid.UUID][]*models.Asset     // Визуалы по сегментам
	verdicts  map[uuid.UUID]models.AssetVerdict // Вердикты по ассетам
	audioRefs map[uuid.UUID]string              // Локаторы озвучки по сегментам
	resolved  map[uuid.UUID]*models.Asset       // Разрешенный визуал по сегментам (после лечения)
}

// runPipeline проводит сессию через все этапы конвейера.
// Инвариант: этап N+1 не начинается, пока результаты этапа N не записаны
// durably; флаг отмены проверяется на каждой границе этапа.
func (o *Orchestrator) runPipeline(ctx context.Context, session *models.Session, cancelRequested *atomic.Bool) error {
	run := &pipelineRun{
		session:   session,
		tracker:   cost.NewTracker(session.ID, o.repos.Costs, o.logger),
		started:   time.Now(),
		cancel:    cancelRequested,
		bySegment: make(map[uuid.UUID][]*models.Asset),
		verdicts:  make(map[uuid.UUID]models.AssetVerdict),
		audioRefs: make(map[uuid.UUID]string),
		resolved:  make(map[uuid.UUID]*models.Asset),
	}
	log := o.logger.With(zap.String("session_id", session.ID.String()))

	type stageFunc struct {
		stage models.Stage
		fn    func(context.Context, *pipelineRun) error
	}
	stages := []stageFunc{
		{models.StageScript, o.stageScript},
		{models.StageVisuals, o.stageVisuals},
		{models.StageValidation, o.stageAudioAndValidation},
		{models.StageCompositionValidation, o.stageCompositionValidation},
		{models.StageComposing, o.stageComposing},
	}

	for _, s := range stages {
		if cancelRequested.Load() {
			return o.finishCancelled(ctx, run, s.stage)
		}
		if err := o.repos.Sessions.UpdateStage(ctx, session.ID, s.stage, models.SessionStatusRunning); err != nil {
			return o.finishFailed(ctx, run, s.stage, err)
		}

		stageStarted := time.Now()
		err := s.fn(ctx, run)
		worker.ObserveStageDuration(string(s.stage), time.Since(stageStarted))

		if err != nil {
			// Результаты этапа, завершившегося после запроса отмены, отбрасываются
			if cancelRequested.Load() {
				return o.finishCancelled(ctx, run, s.stage)
			}
			return o.finishFailed(ctx, run, s.stage, err)
		}
	}

	log.Info("Pipeline finished",
		zap.Duration("duration", time.Since(run.started)),
		zap.Float64("total_cost_usd", run.tracker.TotalUSD()))
	return nil
}

// --- Этап 1: сценарий ---

func (o *Orchestrator) stageScript(ctx context.Context, run *pipelineRun) error {
	o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageScript, 0, "generating script", run.tracker.TotalUSD()))

	out, c, err := o.narrative.Run(ctx, agents.ScriptInput{
		SessionID:  run.session.ID,
		Topic:      run.session.Topic,
		Facts:      run.session.Facts,
		TargetSecs: run.session.TargetSecs,
	})
	run.tracker.Record(ctx, c)
	if err != nil {
		return models.NewPipelineError(models.KindAgentFailure, models.StageScript, err)
	}

	if err := o.repos.Segments.CreateBatch(ctx, out.Segments); err != nil {
		return err
	}
	run.segments = out.Segments

	o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageScript, 1, "script ready", run.tracker.TotalUSD()))
	return nil
}

// --- Этап 2: визуалы (fan-out) ---

func (o *Orchestrator) stageVisuals(ctx context.Context, run *pipelineRun) error {
	reqs := make([]agents.VisualRequest, 0, len(run.segments)*o.cfg.VariantsPerSegment)
	for _, seg := range run.segments {
		for v := 0; v < o.cfg.VariantsPerSegment; v++ {
			reqs = append(reqs, agents.VisualRequest{
				SessionID:    run.session.ID,
				SegmentID:    seg.ID,
				SegmentIndex: seg.Index,
				VariantIndex: v,
				Prompt:       buildVisualPrompt(seg),
			})
		}
	}

	results, c, err := o.visual.GenerateBatch(ctx, reqs, func(completed, total int) {
		o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageVisuals,
			float64(completed)/float64(total),
			fmt.Sprintf("visuals %d/%d", completed, total), run.tracker.TotalUSD()))
	})
	run.tracker.Record(ctx, c)
	if err != nil {
		return models.NewPipelineError(models.KindAgentFailure, models.StageVisuals, err)
	}

	// Частичный сбой fan-out не фатален, пока у каждого сегмента есть
	// хотя бы один результат
	for _, res := range results {
		if res.Err != nil {
			o.logger.Warn("Visual variant generation failed",
				zap.String("session_id", run.session.ID.String()),
				zap.Int("segment_index", res.SegmentIndex),
				zap.Int("variant_index", res.VariantIndex),
				zap.Error(res.Err))
			continue
		}
		segID := res.SegmentID
		asset := &models.Asset{
			ID:           uuid.New(),
			SessionID:    run.session.ID,
			SegmentID:    &segID,
			Kind:         models.AssetKindVisual,
			VariantIndex: res.VariantIndex,
			StorageRef:   res.StorageRef,
			Status:       models.AssetStatusGenerated,
		}
		if err := o.repos.Assets.Create(ctx, asset); err != nil {
			return err
		}
		run.assets = append(run.assets, asset)
		run.bySegment[segID] = append(run.bySegment[segID], asset)
	}

	for _, seg := range run.segments {
		if len(run.bySegment[seg.ID]) == 0 {
			return &models.PipelineError{
				Kind:      models.KindAgentFailure,
				Stage:     models.StageVisuals,
				SegmentID: seg.ID.String(),
				Err:       fmt.Errorf("ни один визуал сегмента %d не сгенерирован", seg.Index),
			}
		}
	}
	return nil
}

// --- Этап 3: валидация и озвучка (параллельно) ---

// stageAudioAndValidation выполняет vision-валидацию визуалов и синтез
// озвучки одновременно: этапы не зависят друг от друга по данным,
// а прогресс каждого маппится в свой глобальный диапазон.
func (o *Orchestrator) stageAudioAndValidation(ctx context.Context, run *pipelineRun) error {
	var wg sync.WaitGroup

	var verdicts []models.AssetVerdict
	var valErr error

	var audioResults []agents.AudioResult
	var audioErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		items := make([]validator.Item, 0, len(run.assets))
		for _, asset := range run.assets {
			seg := run.segmentByID(*asset.SegmentID)
			items = append(items, validator.Item{
				Asset:       asset,
				Narration:   seg.Narration,
				KeyConcepts: seg.KeyConcepts,
			})
		}
		var c models.StageCost
		verdicts, c, valErr = o.validator.ValidateAssets(ctx, items, func(completed, total int) {
			o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageValidation,
				float64(completed)/float64(total),
				fmt.Sprintf("validated %d/%d", completed, total), run.tracker.TotalUSD()))
		})
		run.tracker.Record(ctx, c)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reqs := make([]agents.AudioRequest, 0, len(run.segments))
		for _, seg := range run.segments {
			reqs = append(reqs, agents.AudioRequest{
				SessionID:    run.session.ID,
				SegmentID:    seg.ID,
				SegmentIndex: seg.Index,
				Narration:    seg.Narration,
			})
		}
		var c models.StageCost
		audioResults, c, audioErr = o.audio.Run(ctx, reqs, func(completed, total int) {
			o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageAudio,
				float64(completed)/float64(total),
				fmt.Sprintf("audio %d/%d", completed, total), run.tracker.TotalUSD()))
		})
		run.tracker.Record(ctx, c)
	}()

	wg.Wait()

	if valErr != nil {
		return models.NewPipelineError(models.KindAgentFailure, models.StageValidation, valErr)
	}
	if audioErr != nil {
		return models.NewPipelineError(models.KindAgentFailure, models.StageAudio, audioErr)
	}

	// Персистим вердикты и переводим статусы ассетов
	var allResults []*models.ValidationResult
	for _, verdict := range verdicts {
		run.verdicts[verdict.AssetID] = verdict
		for i := range verdict.Results {
			allResults = append(allResults, &verdict.Results[i])
		}
	}
	if err := o.repos.Validations.CreateBatch(ctx, allResults); err != nil {
		return err
	}
	for _, verdict := range verdicts {
		next := models.AssetStatusRejected
		if verdict.Passed() {
			next = models.AssetStatusValidated
		}
		if err := o.repos.Assets.UpdateStatus(ctx, verdict.AssetID, models.AssetStatusGenerated, next); err != nil {
			return err
		}
		for _, asset := range run.assets {
			if asset.ID == verdict.AssetID {
				asset.Status = next
			}
		}
	}

	// Персистим озвучку; сегмент без озвучки фатален
	for _, res := range audioResults {
		if res.Err != nil {
			return &models.PipelineError{
				Kind:      models.KindAgentFailure,
				Stage:     models.StageAudio,
				SegmentID: res.SegmentID.String(),
				Err:       res.Err,
			}
		}
		segID := res.SegmentID
		asset := &models.Asset{
			ID:         uuid.New(),
			SessionID:  run.session.ID,
			SegmentID:  &segID,
			Kind:       models.AssetKindAudio,
			StorageRef: res.StorageRef,
			Status:     models.AssetStatusValidated,
		}
		if err := o.repos.Assets.Create(ctx, asset); err != nil {
			return err
		}
		run.audioRefs[segID] = res.StorageRef
	}
	return nil
}

// --- Этап 4: предкомпозиционная проверка и лечение ---

// stageCompositionValidation проверяет, что у каждого сегмента есть
// пригодный визуал и озвучка, и лечит сегменты с провалившим валидацию
// основным визуалом. Лечение всегда разрешается: терминальная стратегия
// текстового слайда не умеет падать.
func (o *Orchestrator) stageCompositionValidation(ctx context.Context, run *pipelineRun) error {
	o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageCompositionValidation, 0,
		"checking composition inputs", run.tracker.TotalUSD()))

	var flagged []flaggedSegment
	for _, seg := range run.segments {
		if run.audioRefs[seg.ID] == "" {
			return &models.PipelineError{
				Kind:      models.KindCompositionFailure,
				Stage:     models.StageCompositionValidation,
				SegmentID: seg.ID.String(),
				Err:       models.ErrInvariantViolation,
			}
		}

		// Основной визуал - вариант с наименьшим индексом; остальные
		// прошедшие валидацию варианты образуют пул для подмены
		variants := run.bySegment[seg.ID]
		primary := variants[0]
		for _, a := range variants {
			if a.VariantIndex < primary.VariantIndex {
				primary = a
			}
		}

		if primary.Status == models.AssetStatusValidated {
			run.resolved[seg.ID] = primary
			continue
		}
		flagged = append(flagged, flaggedSegment{
			segment:  seg,
			asset:    primary,
			severity: run.verdicts[primary.ID].Severity,
			pool:     variants,
		})
	}

	o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageCompositionValidation, 1,
		fmt.Sprintf("flagged segments: %d", len(flagged)), run.tracker.TotalUSD()))

	if len(flagged) == 0 {
		return nil
	}
	return o.healFlagged(ctx, run, flagged)
}

func (o *Orchestrator) healFlagged(ctx context.Context, run *pipelineRun, flagged []flaggedSegment) error {
	if err := o.repos.Sessions.UpdateStage(ctx, run.session.ID, models.StageHealing, models.SessionStatusRunning); err != nil {
		return err
	}
	stageStarted := time.Now()
	defer func() {
		worker.ObserveStageDuration(string(models.StageHealing), time.Since(stageStarted))
	}()

	for i, f := range flagged {
		// Лечение может выдавать новые вызовы генерации: флаг отмены
		// проверяется перед каждым сегментом
		if run.cancel.Load() {
			return models.NewPipelineError(models.KindCancelled, models.StageHealing, models.ErrCancelledByUser)
		}
		res, c, err := o.healer.Heal(ctx, run.session, f.segment, f.asset, f.severity, f.pool)
		run.tracker.Record(ctx, c)
		if err != nil {
			return models.NewPipelineError(models.KindValidationFailure, models.StageHealing, err)
		}

		worker.IncHealingAction(string(res.Strategy))
		run.resolved[f.segment.ID] = res.Asset
		o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageHealing,
			float64(i+1)/float64(len(flagged)),
			fmt.Sprintf("healed segment %d (%s)", f.segment.Index, res.Strategy), run.tracker.TotalUSD()))
	}
	return nil
}

// --- Этап 5: композиция ---

func (o *Orchestrator) stageComposing(ctx context.Context, run *pipelineRun) error {
	o.emit(ctx, progress.NewUpdateEvent(run.session.ID, models.StageComposing, 0,
		"rendering final video", run.tracker.TotalUSD()))

	req := compositor.Request{
		SessionID:  run.session.ID,
		FPS:        o.cfg.VideoFPS,
		Resolution: o.cfg.VideoResolution,
		Segments:   make([]compositor.SegmentInput, 0, len(run.segments)),
	}
	for _, seg := range run.segments {
		resolved, ok := run.resolved[seg.ID]
		if !ok {
			return &models.PipelineError{
				Kind:      models.KindCompositionFailure,
				Stage:     models.StageComposing,
				SegmentID: seg.ID.String(),
				Err:       models.ErrInvariantViolation,
			}
		}
		visualURL, err := o.assetURL(resolved.StorageRef)
		if err != nil {
			return models.NewPipelineError(models.KindCompositionFailure, models.StageComposing, err)
		}
		audioURL, err := o.assetURL(run.audioRefs[seg.ID])
		if err != nil {
			return models.NewPipelineError(models.KindCompositionFailure, models.StageComposing, err)
		}
		req.Segments = append(req.Segments, compositor.SegmentInput{
			SegmentID: seg.ID,
			VisualURL: visualURL,
			AudioURL:  audioURL,
			DurationS: seg.TargetSecs,
			Narration: seg.Narration,
		})
	}

	result, c, err := o.comp.Compose(ctx, req)
	run.tracker.Record(ctx, c)
	if err != nil {
		// Композиция не лечится: инфраструктурный сбой терминален
		return models.NewPipelineError(models.KindCompositionFailure, models.StageComposing, err)
	}

	// Отмена, запрошенная во время рендера, отбрасывает его результат:
	// сессия не может стать completed после запроса отмены
	if run.cancel.Load() {
		return models.NewPipelineError(models.KindCancelled, models.StageComposing, models.ErrCancelledByUser)
	}

	finalAsset := &models.Asset{
		ID:         uuid.New(),
		SessionID:  run.session.ID,
		Kind:       models.AssetKindFinalVideo,
		StorageRef: result.StorageRef,
		Status:     models.AssetStatusValidated,
	}
	if err := o.repos.Assets.Create(ctx, finalAsset); err != nil {
		return err
	}

	totalUSD := run.tracker.TotalUSD()
	if err := o.repos.CompLog.SaveSummary(ctx, &models.CompositionSummary{
		SessionID:        run.session.ID,
		SegmentsTotal:    len(run.segments),
		SegmentsSucceeded: len(run.segments),
		TotalCostUSD:     totalUSD,
		Duration:         time.Since(run.started),
	}); err != nil {
		return err
	}
	if err := o.repos.Sessions.MarkCompleted(ctx, run.session.ID, finalAsset.ID); err != nil {
		return err
	}

	resultRef := result.StorageRef
	if url, err := o.assetURL(result.StorageRef); err == nil {
		resultRef = url
	}
	o.emit(ctx, progress.NewCompletedEvent(run.session.ID, resultRef, totalUSD))
	worker.IncSessionFinished(string(models.SessionStatusCompleted))
	worker.ObserveSessionCost(totalUSD)
	return nil
}

// --- Терминальные переходы ---

func (o *Orchestrator) finishFailed(ctx context.Context, run *pipelineRun, stage models.Stage, err error) error {
	o.logger.Error("Pipeline failed",
		zap.String("session_id", run.session.ID.String()),
		zap.String("stage", string(stage)),
		zap.Error(err))

	if markErr := o.repos.Sessions.MarkFailed(ctx, run.session.ID, err.Error()); markErr != nil {
		o.logger.Error("Failed to mark session as failed",
			zap.String("session_id", run.session.ID.String()), zap.Error(markErr))
	}
	o.emit(ctx, progress.NewFailedEvent(run.session.ID, stage, err.Error(), run.tracker.TotalUSD()))
	worker.IncSessionFinished(string(models.SessionStatusFailed))
	return err
}

func (o *Orchestrator) finishCancelled(ctx context.Context, run *pipelineRun, stage models.Stage) error {
	o.logger.Info("Pipeline cancelled",
		zap.String("session_id", run.session.ID.String()),
		zap.String("stage", string(stage)))

	if err := o.repos.Sessions.MarkCancelled(ctx, run.session.ID); err != nil {
		o.logger.Error("Failed to mark session as cancelled",
			zap.String("session_id", run.session.ID.String()), zap.Error(err))
	}
	o.emit(ctx, progress.NewCancelledEvent(run.session.ID, stage, run.tracker.TotalUSD()))
	worker.IncSessionFinished(string(models.SessionStatusCancelled))
	return nil
}

// --- Вспомогательные ---

// emit публикует событие прогресса. Сбой доставки не прерывает конвейер.
func (o *Orchestrator) emit(ctx context.Context, event models.ProgressEvent) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("Failed to publish progress event",
			zap.String("session_id", event.SessionID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// assetURL превращает локатор хранилища в URL для внешних потребителей.
// Инлайновые data-URI локаторы (фолбэк текстового слайда) идут как есть.
func (o *Orchestrator) assetURL(ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	return o.store.ReadURL(ref)
}

func (r *pipelineRun) segmentByID(id uuid.UUID) *models.Segment {
	for _, seg := range r.segments {
		if seg.ID == id {
			return seg
		}
	}
	return nil
}

// buildVisualPrompt собирает промпт генерации визуала сегмента.
func buildVisualPrompt(seg *models.Segment) string {
	var b strings.Builder
	b.WriteString("Educational illustration")
	if len(seg.KeyConcepts) > 0 {
		b.WriteString(" of ")
		b.WriteString(strings.Join(seg.KeyConcepts, ", "))
	}
	b.WriteString(". ")
	if seg.VisualGuidance != "" {
		b.WriteString(seg.VisualGuidance)
	} else {
		b.WriteString(seg.Narration)
	}
	b.WriteString(" Clear, age-appropriate, no text overlays.")
	return b.String()
}
