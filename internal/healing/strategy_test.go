package healing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"eduvideo-server/internal/models"
)

func TestChooseStrategy(t *testing.T) {
	testCases := []struct {
		name     string
		severity float64
		expected models.HealingStrategy
	}{
		{name: "zero severity", severity: 0.0, expected: models.StrategyTextSlide},
		{name: "low severity", severity: 0.3, expected: models.StrategyTextSlide},
		{name: "just below text slide boundary", severity: 0.49, expected: models.StrategyTextSlide},
		{name: "exact 0.5 boundary goes to emergency", severity: 0.5, expected: models.StrategyEmergencyGenerate},
		{name: "mid emergency band", severity: 0.55, expected: models.StrategyEmergencyGenerate},
		{name: "just below substitute boundary", severity: 0.59, expected: models.StrategyEmergencyGenerate},
		{name: "exact 0.6 boundary goes to substitute", severity: 0.6, expected: models.StrategySubstitute},
		{name: "0.75 goes to substitute", severity: 0.75, expected: models.StrategySubstitute},
		{name: "high severity", severity: 0.95, expected: models.StrategySubstitute},
		{name: "full confidence", severity: 1.0, expected: models.StrategySubstitute},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ChooseStrategy(tc.severity))
		})
	}
}

func TestChooseStrategyIsDeterministic(t *testing.T) {
	for _, severity := range []float64{0.5, 0.6, 0.75} {
		first := ChooseStrategy(severity)
		for i := 0; i < 100; i++ {
			assert.Equal(t, first, ChooseStrategy(severity))
		}
	}
}
