package models

// Requests for chart HTTP endpoints. Defined in domain for consistency and reuse.

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 12h"`
	From   int64  `query:"from" json:"from" validate:"gte=0"`
	To     int64  `query:"to" json:"to" validate:"gte=0"`
	Force  bool   `query:"force" json:"force"`
}

type MetadataRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type InvalidateRequest struct {
	Pattern string `json:"pattern"`
}

type LoadChartRequest struct {
	Symbol string `json:"symbol" validate:"required"`
	TF     string `json:"tf" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 12h"`
}

type TimeframeRequest struct {
	TF string `json:"tf" validate:"required,oneof=1m 5m 15m 1h 4h 12h"`
}

type LockRequest struct {
	Locked bool `json:"locked"`
}

type ZoomRequest struct {
	BarSpacing float64 `json:"bar_spacing" validate:"gt=0"`
}

type TriggerUpdateRequest struct {
	Symbol string `json:"symbol" validate:"required"`
	TF     string `json:"tf" validate:"required,oneof=1m 5m 15m 1h 4h 12h"`
}
