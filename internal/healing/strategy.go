package healing

import "eduvideo-server/internal/models"

// Пороги выбора стратегии лечения.
const (
	textSlideThreshold  = 0.5
	substituteThreshold = 0.6
)

// ChooseStrategy - чистая детерминированная функция выбора стратегии по severity.
//
// severity < 0.5        -> TextSlide (терминальный фолбэк)
// 0.5 <= severity < 0.6 -> EmergencyGenerate (до 3 попыток с quick-check)
// severity >= 0.6       -> Substitute (готовый прошедший валидацию вариант)
//
// Граничные значения попадают в ярус своей закрытой нижней границы:
// ровно 0.5 - EmergencyGenerate, ровно 0.6 и 0.75 - Substitute.
func ChooseStrategy(severity float64) models.HealingStrategy {
	switch {
	case severity < textSlideThreshold:
		return models.StrategyTextSlide
	case severity < substituteThreshold:
		return models.StrategyEmergencyGenerate
	default:
		return models.StrategySubstitute
	}
}
