package usecase

import (
	"context"
	"fmt"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
)

// CandlesUseCase serves ad-hoc range queries through the fetch coordinator,
// so API reads share the chart's cache and in-flight calls.
type CandlesUseCase struct {
	coord *FetchCoordinator
}

func NewCandlesUseCase(coord *FetchCoordinator) *CandlesUseCase {
	return &CandlesUseCase{coord: coord}
}

type GetCandlesParams struct {
	Symbol    string
	From      int64
	To        int64
	Timeframe domrepo.Timeframe
	Force     bool
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Key       string            `json:"key,omitempty"`
	Range     *models.TimeRange `json:"range,omitempty"`
	Count     int               `json:"count"`
	Candles   []models.Candle   `json:"candles"`
}

func (uc *CandlesUseCase) ListSymbols(ctx context.Context) ([]models.AvailableSymbol, error) {
	symbols, err := uc.coord.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if symbols == nil {
		symbols = []models.AvailableSymbol{}
	}
	return symbols, nil
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	opts := FetchOptions{ForceRefresh: p.Force}
	if p.From != 0 || p.To != 0 {
		if p.From > p.To {
			return nil, ErrInvalidRange
		}
		opts.Range = &models.TimeRange{From: p.From, To: p.To}
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	candles, err := uc.coord.Fetch(ctx, p.Symbol, p.Timeframe, opts)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	// keep the newest candles when trimming
	if len(candles) > p.Limit {
		candles = candles[len(candles)-p.Limit:]
	}

	res := &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		Range:     opts.Range,
		Count:     len(candles),
		Candles:   candles,
	}
	if opts.Range != nil {
		res.Key = NormalizeRangeKey(p.Symbol, p.Timeframe, opts.Range.From, opts.Range.To)
	} else if r, ok := uc.coord.DefaultRange(p.Symbol, p.Timeframe); ok {
		res.Range = &r
		res.Key = NormalizeRangeKey(p.Symbol, p.Timeframe, r.From, r.To)
	}
	return res, nil
}
