package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/storage"
)

// ServiceAudio - имя сервиса синтеза речи в журнале стоимости.
const ServiceAudio = "audio"

// pricePerThousandCharsUSD - оценочная цена TTS за 1000 символов текста.
const pricePerThousandCharsUSD = 0.015

// ErrAudioGenerationFailed - ошибка синтеза речи.
var ErrAudioGenerationFailed = errors.New("audio generation failed")

// AudioRequest - запрос синтеза озвучки одного сегмента.
type AudioRequest struct {
	SessionID    uuid.UUID
	SegmentID    uuid.UUID
	SegmentIndex int
	Narration    string
}

// AudioResult - результат синтеза озвучки одного сегмента.
type AudioResult struct {
	SegmentIndex int
	SegmentID    uuid.UUID
	StorageRef   string
	Err          error
}

// AudioAgent синтезирует озвучку сегментов.
type AudioAgent interface {
	// Run синтезирует озвучку для всех сегментов; результаты в порядке отправки.
	Run(ctx context.Context, reqs []AudioRequest, onDone func(completed, total int)) ([]AudioResult, models.StageCost, error)
}

// ttsAgent - реализация AudioAgent через OpenAI TTS.
type ttsAgent struct {
	client  *openaigo.Client
	model   string
	voice   string
	store   storage.AssetStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewTTSAgent создает агента озвучки.
func NewTTSAgent(apiKey, baseURL, model, voice string, store storage.AssetStore, timeout time.Duration, logger *zap.Logger) AudioAgent {
	clientConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &ttsAgent{
		client:  openaigo.NewClientWithConfig(clientConfig),
		model:   model,
		voice:   voice,
		store:   store,
		logger:  logger.Named("AudioAgent"),
		timeout: timeout,
	}
}

// Run синтезирует озвучку последовательно: сегментов всегда четыре,
// а TTS-бэкенды жестко ограничивают параллельные запросы.
func (a *ttsAgent) Run(ctx context.Context, reqs []AudioRequest, onDone func(completed, total int)) ([]AudioResult, models.StageCost, error) {
	results := make([]AudioResult, len(reqs))
	cost := models.StageCost{Service: ServiceAudio}
	var chars int

	for i, req := range reqs {
		ref, err := a.synthesize(ctx, req)
		results[i] = AudioResult{
			SegmentIndex: req.SegmentIndex,
			SegmentID:    req.SegmentID,
			StorageRef:   ref,
			Err:          err,
		}
		if err == nil {
			chars += len(req.Narration)
			cost.AmountUSD += float64(len(req.Narration)) / 1000.0 * pricePerThousandCharsUSD
		}
		if onDone != nil {
			onDone(i+1, len(reqs))
		}
	}

	cost.UnitDetail = fmt.Sprintf("tts_chars=%d", chars)
	return results, cost, nil
}

// synthesize - один вызов TTS с сохранением mp3 в хранилище.
func (a *ttsAgent) synthesize(ctx context.Context, req AudioRequest) (string, error) {
	log := a.logger.With(
		zap.String("session_id", req.SessionID.String()),
		zap.Int("segment_index", req.SegmentIndex),
	)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateSpeech(callCtx, openaigo.CreateSpeechRequest{
		Model: openaigo.SpeechModel(a.model),
		Input: req.Narration,
		Voice: openaigo.SpeechVoice(a.voice),
	})
	if err != nil {
		log.Error("TTS call failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAudioGenerationFailed, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("%w: чтение аудиопотока: %v", ErrAudioGenerationFailed, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: пустой аудиопоток", ErrAudioGenerationFailed)
	}

	ref := fmt.Sprintf("%s/audio/%s.mp3", req.SessionID, req.SegmentID)
	if err := a.store.Put(ctx, ref, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAudioGenerationFailed, err)
	}

	log.Info("Audio synthesized and stored", zap.String("ref", ref), zap.Int("size_bytes", len(data)))
	return ref, nil
}
