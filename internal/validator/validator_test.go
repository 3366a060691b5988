package validator

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduvideo-server/internal/models"
)

func testItem() Item {
	return Item{
		Asset:       &models.Asset{ID: uuid.New(), StorageRef: "visuals/a.png"},
		Narration:   "Water cycle narration",
		KeyConcepts: []string{"evaporation", "condensation"},
	}
}

func TestParseVerdict(t *testing.T) {
	item := testItem()
	text := `{"criteria":[
		{"name":"scientific_accuracy","passed":true,"confidence":0.92},
		{"name":"label_quality","passed":false,"confidence":0.55,"issue":"misspelled label"},
		{"name":"age_appropriateness","passed":true,"confidence":0.8},
		{"name":"visual_clarity","passed":true,"confidence":0.88}
	]}`

	results, err := parseVerdict(item, models.AllCriteria, text)

	require.NoError(t, err)
	require.Len(t, results, len(models.AllCriteria))
	// Порядок результатов следует запрошенным критериям, не ответу модели
	assert.Equal(t, models.CriterionScientificAccuracy, results[0].Criterion)
	assert.Equal(t, models.CriterionLabelQuality, results[1].Criterion)
	assert.False(t, results[1].Passed)
	assert.InDelta(t, 0.55, results[1].Confidence, 1e-9)
	assert.Equal(t, "misspelled label", results[1].Issue)
	assert.Equal(t, item.Asset.ID, results[0].AssetID)
}

func TestParseVerdict_StripsCodeFence(t *testing.T) {
	item := testItem()
	text := "```json\n{\"criteria\":[" +
		"{\"name\":\"scientific_accuracy\",\"passed\":true,\"confidence\":0.9}," +
		"{\"name\":\"visual_clarity\",\"passed\":true,\"confidence\":0.85}" +
		"]}\n```"

	results, err := parseVerdict(item, models.QuickCheckCriteria, text)

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestParseVerdict_ClampsConfidence(t *testing.T) {
	item := testItem()
	text := `{"criteria":[
		{"name":"scientific_accuracy","passed":false,"confidence":1.7},
		{"name":"visual_clarity","passed":false,"confidence":-0.2}
	]}`

	results, err := parseVerdict(item, models.QuickCheckCriteria, text)

	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[0].Confidence, 1e-9)
	assert.InDelta(t, 0.0, results[1].Confidence, 1e-9)
}

func TestParseVerdict_MissingCriterion(t *testing.T) {
	item := testItem()
	text := `{"criteria":[{"name":"scientific_accuracy","passed":true,"confidence":0.9}]}`

	_, err := parseVerdict(item, models.AllCriteria, text)

	assert.Error(t, err)
}

func TestParseVerdict_InvalidJSON(t *testing.T) {
	_, err := parseVerdict(testItem(), models.AllCriteria, "not a json verdict")
	assert.Error(t, err)
}

// Транспортный сбой дает полностью проваленный вердикт с нулевой уверенностью:
// severity 0 уводит ассет в терминальный фолбэк, а не роняет сессию.
func TestFailedResults(t *testing.T) {
	item := testItem()

	results := failedResults(item, errors.New("connection refused"))

	require.Len(t, results, len(models.AllCriteria))
	for _, r := range results {
		assert.False(t, r.Passed)
		assert.InDelta(t, 0, r.Confidence, 1e-9)
		assert.Contains(t, r.Issue, "connection refused")
	}
	assert.InDelta(t, 0, models.ComputeSeverity(results), 1e-9)
}
