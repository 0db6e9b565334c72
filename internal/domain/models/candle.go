package models

import "time"

// Candle is one OHLC bar; Time is unix seconds aligned to the timeframe period.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// IsPlaceholder reports whether c is a synthetic flat bar not yet confirmed
// by the backend.
func (c Candle) IsPlaceholder() bool {
	return c.Open == c.High && c.High == c.Low && c.Low == c.Close
}

// RawCandle is the backend wire shape: prices arrive as decimal text.
type RawCandle struct {
	Time   string `json:"time"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume *int64 `json:"volume,omitempty"`
}

// CandleResponse is what a range query against the backend returns.
type CandleResponse struct {
	Candles  []RawCandle     `json:"data"`
	Metadata *SymbolMetadata `json:"metadata,omitempty"`
}

// SymbolMetadata describes the data available upstream for a symbol.
type SymbolMetadata struct {
	Symbol     string `json:"symbol"`
	DataFrom   int64  `json:"data_from"`
	DataTo     int64  `json:"data_to"`
	TotalTicks *int64 `json:"total_ticks,omitempty"`
	HasData    bool   `json:"has_data"`
}

// AvailableSymbol is one symbol with stored ticks, for symbol pickers.
type AvailableSymbol struct {
	Symbol   string  `json:"symbol"`
	Label    string  `json:"label"`
	Source   string  `json:"source"`
	HasData  bool    `json:"has_data"`
	LastTick *string `json:"last_tick,omitempty"`
}

// TimeRange is a closed [From, To] window in unix seconds.
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// CacheEntry is one stored fetch result. It is replaced, never mutated.
type CacheEntry struct {
	Key       string          `json:"key"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Candles   []Candle        `json:"candles"`
	Metadata  *SymbolMetadata `json:"metadata,omitempty"`
	CachedAt  time.Time       `json:"cached_at"`
	Range     TimeRange       `json:"range"`
}

// UpdateNotification announces that new candles exist upstream.
type UpdateNotification struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Timestamp string `json:"timestamp"`
}
