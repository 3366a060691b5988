package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationCriterion - один из четырех независимых критериев визуальной проверки.
type ValidationCriterion string

const (
	CriterionScientificAccuracy ValidationCriterion = "scientific_accuracy"
	CriterionLabelQuality       ValidationCriterion = "label_quality"
	CriterionAgeAppropriateness ValidationCriterion = "age_appropriateness"
	CriterionVisualClarity      ValidationCriterion = "visual_clarity"
)

// AllCriteria - полный набор критериев для основной валидации.
var AllCriteria = []ValidationCriterion{
	CriterionScientificAccuracy,
	CriterionLabelQuality,
	CriterionAgeAppropriateness,
	CriterionVisualClarity,
}

// QuickCheckCriteria - сокращенный набор для повторной проверки аварийных регенераций.
var QuickCheckCriteria = []ValidationCriterion{
	CriterionScientificAccuracy,
	CriterionVisualClarity,
}

// ValidationResult - одна запись на пару (Asset, критерий).
// Пишется только валидатором, после записи неизменяема.
type ValidationResult struct {
	ID         uuid.UUID           `db:"id" json:"id"`
	AssetID    uuid.UUID           `db:"asset_id" json:"asset_id"`
	Criterion  ValidationCriterion `db:"criterion" json:"criterion"`
	Passed     bool                `db:"passed" json:"passed"`
	Confidence float64             `db:"confidence" json:"confidence"`
	Issue      string              `db:"issue" json:"issue,omitempty"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
}

// AssetVerdict - агрегат результатов валидации одного ассета.
type AssetVerdict struct {
	AssetID uuid.UUID
	Results []ValidationResult
	// Severity = среднее от confidence проваленных критериев,
	// либо 1.0, если провалов нет.
	Severity float64
}

// Passed возвращает true, если все критерии пройдены.
func (v AssetVerdict) Passed() bool {
	for _, r := range v.Results {
		if !r.Passed {
			return false
		}
	}
	return len(v.Results) > 0
}

// ComputeSeverity считает severity по правилам валидатора:
// среднее confidence проваленных критериев, 1.0 при полном прохождении.
func ComputeSeverity(results []ValidationResult) float64 {
	var sum float64
	var failed int
	for _, r := range results {
		if !r.Passed {
			sum += r.Confidence
			failed++
		}
	}
	if failed == 0 {
		return 1.0
	}
	return sum / float64(failed)
}
