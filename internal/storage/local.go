package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// localStore - реализация AssetStore поверх локальной файловой системы
// с публичными URL, подписанными HMAC и ограниченными по времени.
type localStore struct {
	logger   *zap.Logger
	basePath string
	baseURL  string
	urlTTL   time.Duration
	signKey  []byte
}

// NewLocalStore создает файловое хранилище ассетов.
func NewLocalStore(logger *zap.Logger, basePath, baseURL string, urlTTL time.Duration, signKey string) (AssetStore, error) {
	if basePath == "" {
		return nil, errors.New("asset save path (ASSET_SAVE_PATH) is not configured")
	}
	if baseURL == "" {
		return nil, errors.New("asset public base URL (ASSET_PUBLIC_BASE_URL) is not configured")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища: %w", err)
	}

	return &localStore{
		logger:   logger.Named("LocalAssetStore"),
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		urlTTL:   urlTTL,
		signKey:  []byte(signKey),
	}, nil
}

// filePath превращает локатор в путь внутри basePath, отсекая выход из директории.
func (s *localStore) filePath(ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	if clean == "/" {
		return "", fmt.Errorf("пустой локатор ассета")
	}
	return filepath.Join(s.basePath, clean), nil
}

// Put сохраняет данные под локатором.
func (s *localStore) Put(ctx context.Context, ref string, data []byte) error {
	path, err := s.filePath(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("не удалось создать директорию для ассета %s: %w", ref, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("Failed to save asset data", zap.String("ref", ref), zap.Error(err))
		return fmt.Errorf("ошибка сохранения ассета %s: %w", ref, err)
	}
	s.logger.Debug("Asset data saved", zap.String("ref", ref), zap.Int("size_bytes", len(data)))
	return nil
}

// Get возвращает данные по локатору.
func (s *localStore) Get(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.filePath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetDataNotFound, ref)
		}
		return nil, fmt.Errorf("ошибка чтения ассета %s: %w", ref, err)
	}
	return data, nil
}

// ReadURL собирает подписанный публичный URL с ограниченным временем жизни.
func (s *localStore) ReadURL(ref string) (string, error) {
	expires := time.Now().Add(s.urlTTL).Unix()
	mac := hmac.New(sha256.New, s.signKey)
	fmt.Fprintf(mac, "%s:%d", ref, expires)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", s.baseURL, strings.TrimLeft(ref, "/"), expires, sig), nil
}

// VerifyReadURL проверяет подпись и срок действия параметров URL чтения.
func VerifyReadURL(signKey []byte, ref string, expires int64, sig string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	mac := hmac.New(sha256.New, signKey)
	fmt.Fprintf(mac, "%s:%d", ref, expires)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
