package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewOpenAIClient_ConfiguresHTTPTimeout(t *testing.T) {
	client := NewOpenAIClient("test-key", "http://localhost:9999/v1", "gpt-4o-mini", 30*time.Second, zap.NewNop())

	require.NotNil(t, client)
	impl, ok := client.(*openAIClient)
	require.True(t, ok)
	assert.NotNil(t, impl.client)
	assert.Equal(t, "gpt-4o-mini", impl.model)
}

func TestCalculateCost(t *testing.T) {
	// 1М входных + 1М выходных токенов = сумма цен за миллион
	assert.InDelta(t, pricePerMillionInputTokensUSD+pricePerMillionOutputTokensUSD,
		calculateCost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0, calculateCost(0, 0), 1e-9)
}

func TestEstimateTokens_FallsBackOnUnknownModel(t *testing.T) {
	text := "photosynthesis converts light energy into chemical energy"

	// Неизвестная модель оценивается грубо, ~4 символа на токен
	assert.Equal(t, len(text)/4, estimateTokens("definitely-not-a-model", text))
}
