package repository

import (
	"context"

	"ChartSync/internal/domain/models"
)

// CandleSource is the backend data provider.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, tf Timeframe, from, to int64) (*models.CandleResponse, error)
	FetchSymbolMetadata(ctx context.Context, symbol string) (*models.SymbolMetadata, error)
	ListSymbols(ctx context.Context) ([]models.AvailableSymbol, error)
}

// UpdateMonitor streams "new data available" hints while started.
type UpdateMonitor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Notifications() <-chan models.UpdateNotification
}

// UpdatePublisher emits update hints (manual trigger).
type UpdatePublisher interface {
	Publish(ctx context.Context, n models.UpdateNotification) error
	Close() error
}

// Renderer is the chart drawing surface.
type Renderer interface {
	ReplaceBuffer(candles []models.Candle)
	ApplyBarSpacing(spacing float64)
	CurrentBarSpacing() float64
	CurrentVisibleRange() models.TimeRange
}

type Metrics interface {
	RecordCacheResult(result string)
	RecordCacheEviction()
	RecordBackendCall(op string, seconds float64, err error)
	SetPendingRequests(n int)
	RecordTransition(from, to, cause string)
	RecordMerge(placeholderKept bool)
	RecordDiscard(reason string)
	RecordError(kind string)
}
