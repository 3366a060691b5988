package models

import "time"

// Типы сообщений прогресса, отправляемых клиентам.
const (
	ProgressTypeUpdate    = "progress_update"
	ProgressTypeCompleted = "session_completed"
	ProgressTypeFailed    = "session_failed"
	ProgressTypeCancelled = "session_cancelled"
)

// ProgressEvent - структурированное событие прогресса сессии.
// Эфемерно: персистится только последнее событие на сессию (для polling-клиентов).
type ProgressEvent struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Stage     Stage   `json:"stage"`
	Progress  float64 `json:"progress"`
	Message   string  `json:"message"`
	// CostUSD - накопленная стоимость сессии на момент события.
	CostUSD float64 `json:"cost"`
	Error   *string `json:"error"`
	// ResultRef - локатор финального артефакта, только в терминальном success-событии.
	ResultRef string    `json:"result_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
