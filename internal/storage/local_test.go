package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLocalStore(t *testing.T) AssetStore {
	t.Helper()
	store, err := NewLocalStore(zap.NewNop(), t.TempDir(), "http://localhost:8080/assets", time.Hour, "test-sign-key")
	require.NoError(t, err)
	return store
}

func TestLocalStore_PutAndGet(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "session-1/visuals/a.png", []byte("png-bytes")))

	data, err := store.Get(ctx, "session-1/visuals/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestLocalStore_GetMissing(t *testing.T) {
	store := newTestLocalStore(t)

	_, err := store.Get(context.Background(), "missing/ref.png")

	assert.ErrorIs(t, err, ErrAssetDataNotFound)
}

func TestLocalStore_RefCannotEscapeBasePath(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	// Локатор с выходом наверх нормализуется внутрь basePath
	require.NoError(t, store.Put(ctx, "../../etc/escape.txt", []byte("data")))

	data, err := store.Get(ctx, "etc/escape.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestLocalStore_ReadURLIsSignedAndVerifiable(t *testing.T) {
	store := newTestLocalStore(t)

	readURL, err := store.ReadURL("session-1/visuals/a.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(readURL, "http://localhost:8080/assets/session-1/visuals/a.png?"))

	parsed, err := url.Parse(readURL)
	require.NoError(t, err)
	expires, err := strconv.ParseInt(parsed.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	sig := parsed.Query().Get("sig")
	require.NotEmpty(t, sig)

	assert.True(t, VerifyReadURL([]byte("test-sign-key"), "session-1/visuals/a.png", expires, sig))

	// Другой ключ, другой локатор или подмененная подпись не проходят
	assert.False(t, VerifyReadURL([]byte("other-key"), "session-1/visuals/a.png", expires, sig))
	assert.False(t, VerifyReadURL([]byte("test-sign-key"), "session-1/visuals/b.png", expires, sig))
	assert.False(t, VerifyReadURL([]byte("test-sign-key"), "session-1/visuals/a.png", expires, sig+"00"))
}

func TestVerifyReadURL_Expired(t *testing.T) {
	signKey := []byte("test-sign-key")
	ref := "session-1/final.mp4"
	expires := time.Now().Add(-time.Minute).Unix()

	// Корректная подпись с истекшим сроком действия не проходит
	mac := hmac.New(sha256.New, signKey)
	fmt.Fprintf(mac, "%s:%d", ref, expires)
	validSig := hex.EncodeToString(mac.Sum(nil))

	assert.False(t, VerifyReadURL(signKey, ref, expires, validSig))
}
