package storage

import (
	"context"
	"errors"
)

// ErrAssetDataNotFound - данные по локатору отсутствуют в хранилище.
var ErrAssetDataNotFound = errors.New("asset data not found in store")

// AssetStore - непрозрачное хранилище артефактов.
// Локатор (ref) - это не путь на диске, а ключ, смысл которого знает только хранилище.
type AssetStore interface {
	// Put сохраняет данные под указанным локатором.
	Put(ctx context.Context, ref string, data []byte) error
	// Get возвращает данные по локатору.
	Get(ctx context.Context, ref string) ([]byte, error)
	// ReadURL возвращает публичный URL чтения, ограниченный по времени жизни.
	ReadURL(ref string) (string, error)
}
