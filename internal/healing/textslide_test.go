package healing

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eduvideo-server/internal/mocks"
	"eduvideo-server/internal/models"
)

func testSegment() *models.Segment {
	return &models.Segment{
		ID:          uuid.New(),
		SessionID:   uuid.New(),
		Kind:        models.SegmentConcept,
		Index:       1,
		Narration:   "Photosynthesis converts light into chemical energy",
		KeyConcepts: []string{"chlorophyll", "light reaction", "glucose"},
	}
}

func TestTextSlideGenerator_Generate(t *testing.T) {
	store := mocks.NewMemStore()
	gen := NewTextSlideGenerator(store, zap.NewNop())
	segment := testSegment()
	sessionID := segment.SessionID

	asset := gen.Generate(context.Background(), sessionID, segment)

	require.NotNil(t, asset)
	assert.Equal(t, models.AssetKindTextSlide, asset.Kind)
	assert.Equal(t, models.AssetStatusValidated, asset.Status)
	require.NotNil(t, asset.SegmentID)
	assert.Equal(t, segment.ID, *asset.SegmentID)
	assert.Equal(t, sessionID, asset.SessionID)

	data, err := store.Get(context.Background(), asset.StorageRef)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chlorophyll")
	assert.Contains(t, string(data), "Photosynthesis")
}

func TestTextSlideGenerator_RepeatedCallsProduceNewAssets(t *testing.T) {
	store := mocks.NewMemStore()
	gen := NewTextSlideGenerator(store, zap.NewNop())
	segment := testSegment()

	first := gen.Generate(context.Background(), segment.SessionID, segment)
	second := gen.Generate(context.Background(), segment.SessionID, segment)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.StorageRef, second.StorageRef)
	assert.Equal(t, 2, store.Len())
}

func TestTextSlideGenerator_StoreFailureFallsBackToInlineLocator(t *testing.T) {
	store := mocks.NewMemStore()
	store.FailPut = true
	gen := NewTextSlideGenerator(store, zap.NewNop())
	segment := testSegment()

	asset := gen.Generate(context.Background(), segment.SessionID, segment)

	require.NotNil(t, asset)
	assert.True(t, strings.HasPrefix(asset.StorageRef, "data:image/svg+xml;base64,"))
	assert.Equal(t, models.AssetStatusValidated, asset.Status)
}

func TestTextSlideGenerator_EscapesMarkup(t *testing.T) {
	store := mocks.NewMemStore()
	gen := NewTextSlideGenerator(store, zap.NewNop())
	segment := testSegment()
	segment.Narration = `DNA <double helix> & "base pairs"`

	asset := gen.Generate(context.Background(), segment.SessionID, segment)

	data, err := store.Get(context.Background(), asset.StorageRef)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<double helix>")
	assert.Contains(t, string(data), "&lt;double helix&gt;")
}
