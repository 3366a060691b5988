package healing

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/storage"
)

// slideTemplate - детерминированный SVG слайд: текст на однотонном фоне.
const slideTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="1080" height="1920" viewBox="0 0 1080 1920">
  <rect width="1080" height="1920" fill="#1a2639"/>
  <text x="540" y="640" fill="#ffffff" font-family="sans-serif" font-size="56" font-weight="bold" text-anchor="middle">%s</text>
%s</svg>
`

// TextSlideGenerator синтезирует фолбэк-слайд для сегмента.
// Это терминальная стратегия лечения: генерация никогда не возвращает ошибку.
type TextSlideGenerator struct {
	store  storage.AssetStore
	logger *zap.Logger
}

// NewTextSlideGenerator создает генератор текстовых слайдов.
func NewTextSlideGenerator(store storage.AssetStore, logger *zap.Logger) *TextSlideGenerator {
	return &TextSlideGenerator{store: store, logger: logger.Named("TextSlideGenerator")}
}

// Generate создает новый независимый слайд для сегмента.
// Повторный вызов для того же сегмента дает новый пригодный ассет.
// Ошибок не бывает: при сбое записи в хранилище локатором становится
// data-URI с тем же содержимым (локатор непрозрачен для потребителей).
func (g *TextSlideGenerator) Generate(ctx context.Context, sessionID uuid.UUID, segment *models.Segment) *models.Asset {
	data := g.render(segment)

	ref := fmt.Sprintf("%s/slides/%s-%s.svg", sessionID, segment.ID, uuid.NewString()[:8])
	if err := g.store.Put(ctx, ref, data); err != nil {
		g.logger.Warn("Failed to store text slide, falling back to inline locator",
			zap.String("segment_id", segment.ID.String()), zap.Error(err))
		ref = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(data)
	}

	segID := segment.ID
	return &models.Asset{
		ID:           uuid.New(),
		SessionID:    sessionID,
		SegmentID:    &segID,
		Kind:         models.AssetKindTextSlide,
		VariantIndex: 0,
		StorageRef:   ref,
		Status:       models.AssetStatusValidated,
	}
}

// render собирает SVG из первых строк озвучки и ключевых концептов сегмента.
func (g *TextSlideGenerator) render(segment *models.Segment) []byte {
	title := segment.Narration
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	title = escapeXML(title)

	var lines strings.Builder
	y := 760
	for i, concept := range segment.KeyConcepts {
		if i >= 6 {
			break
		}
		fmt.Fprintf(&lines, `  <text x="540" y="%d" fill="#9fb4d0" font-family="sans-serif" font-size="40" text-anchor="middle">%s</text>%s`,
			y, escapeXML(concept), "\n")
		y += 72
	}

	return []byte(fmt.Sprintf(slideTemplate, title, lines.String()))
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
