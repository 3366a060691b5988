package models

import (
	"time"

	"github.com/google/uuid"
)

// CostEntry - одна запись о стоимости обращения к внешнему сервису.
// Журнал append-only; итог по сессии всегда считается суммированием записей.
type CostEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	// Service - имя внешнего сервиса (narrative, visual, audio, validator, compositor).
	Service string `db:"service" json:"service"`
	// AmountUSD - оценочная стоимость вызова в долларах США.
	AmountUSD float64 `db:"amount_usd" json:"amount_usd"`
	// UnitDetail - детализация единиц (число изображений, секунды аудио, токены).
	UnitDetail string    `db:"unit_detail" json:"unit_detail"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StageCost - стоимость, возвращаемая агентом этапа вместе с результатом.
type StageCost struct {
	Service    string
	AmountUSD  float64
	UnitDetail string
}

// Add суммирует две стоимости одного сервиса.
func (c StageCost) Add(other StageCost) StageCost {
	res := c
	res.AmountUSD += other.AmountUSD
	if res.Service == "" {
		res.Service = other.Service
	}
	if other.UnitDetail != "" {
		if res.UnitDetail != "" {
			res.UnitDetail += "; "
		}
		res.UnitDetail += other.UnitDetail
	}
	return res
}

// CostBreakdown - производная сводка стоимости по сессии.
type CostBreakdown struct {
	SessionID uuid.UUID          `json:"session_id"`
	TotalUSD  float64            `json:"total_usd"`
	ByService map[string]float64 `json:"by_service"`
	Entries   []CostEntry        `json:"entries"`
}
