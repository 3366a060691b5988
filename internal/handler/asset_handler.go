package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eduvideo-server/internal/storage"
)

// AssetHandler отдает файлы ассетов по подписанным URL, которые выдает хранилище.
type AssetHandler struct {
	store   storage.AssetStore
	signKey []byte
	logger  *zap.Logger
}

// NewAssetHandler создает обработчик выдачи ассетов.
func NewAssetHandler(store storage.AssetStore, signKey string, logger *zap.Logger) *AssetHandler {
	return &AssetHandler{
		store:   store,
		signKey: []byte(signKey),
		logger:  logger.Named("AssetHandler"),
	}
}

// RegisterRoutes регистрирует маршрут выдачи ассетов.
// Аутентификация не требуется: доступ контролируется подписью с ограниченным сроком.
func (h *AssetHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/assets/*ref", h.serveAsset)
}

func (h *AssetHandler) serveAsset(c *gin.Context) {
	ref := strings.TrimPrefix(c.Param("ref"), "/")
	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid expires parameter"})
		return
	}
	sig := c.Query("sig")

	if !storage.VerifyReadURL(h.signKey, ref, expires, sig) {
		c.JSON(http.StatusForbidden, APIError{Message: "invalid or expired signature"})
		return
	}

	data, err := h.store.Get(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, storage.ErrAssetDataNotFound) {
			c.JSON(http.StatusNotFound, APIError{Message: "asset not found"})
			return
		}
		h.logger.Error("Failed to read asset", zap.String("ref", ref), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to read asset"})
		return
	}

	c.Data(http.StatusOK, contentTypeFor(ref), data)
}

// contentTypeFor определяет Content-Type по расширению локатора.
func contentTypeFor(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".png"):
		return "image/png"
	case strings.HasSuffix(ref, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(ref, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(ref, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
