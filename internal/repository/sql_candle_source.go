package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	applogger "ChartSync/pkg/logger"
	"ChartSync/pkg/util"
)

// SQLCandleSource implements CandleSource over the per-asset candle tables.
// ClickHouse serves production; SQLite serves local and offline runs.
type SQLCandleSource struct {
	db      *sql.DB
	dialect Dialect
	l       *applogger.Logger
}

func NewSQLCandleSource(db *sql.DB, dialect Dialect) *SQLCandleSource {
	return &SQLCandleSource{db: db, dialect: dialect, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *SQLCandleSource) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *SQLCandleSource) FetchCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to int64) (*models.CandleResponse, error) {
	table, err := CandleTable(symbol, tf)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.candleQuery(table), symbol, s.dialect.bindTime(from), s.dialect.bindTime(to))
	if err != nil {
		s.l.Error("fetch_candles query error",
			applogger.String("dialect", string(s.dialect)),
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.RawCandle, 0, 512)
	for rows.Next() {
		var (
			ts     unixTime
			rc     models.RawCandle
			volume sql.NullInt64
		)
		if err := rows.Scan(&ts, &rc.Open, &rc.High, &rc.Low, &rc.Close, &volume); err != nil {
			s.l.Error("fetch_candles scan error",
				applogger.String("table", table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		rc.Time = time.Unix(ts.Unix, 0).UTC().Format(time.RFC3339)
		if volume.Valid {
			v := volume.Int64
			rc.Volume = &v
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("fetch_candles rows error",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("rows: %w", err)
	}

	if len(out) == 0 {
		return &models.CandleResponse{
			Candles:  out,
			Metadata: &models.SymbolMetadata{Symbol: symbol, HasData: false},
		}, nil
	}

	meta, err := s.FetchSymbolMetadata(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.l.Debug("fetch_candles",
		applogger.String("table", table),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
	)
	return &models.CandleResponse{Candles: out, Metadata: meta}, nil
}

func (s *SQLCandleSource) FetchSymbolMetadata(ctx context.Context, symbol string) (*models.SymbolMetadata, error) {
	table, err := TicksTable(symbol)
	if err != nil {
		return nil, err
	}

	var (
		minT, maxT unixTime
		count      int64
	)
	err = s.db.QueryRowContext(ctx, s.dialect.metadataQuery(table), symbol).Scan(&minT, &maxT, &count)
	if err != nil && err != sql.ErrNoRows {
		s.l.Error("symbol_metadata query error",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("symbol metadata: %w", err)
	}

	meta := &models.SymbolMetadata{Symbol: symbol}
	if count == 0 || !minT.Valid || !maxT.Valid {
		return meta, nil
	}
	meta.DataFrom = minT.Unix
	meta.DataTo = maxT.Unix
	meta.TotalTicks = &count
	meta.HasData = true
	return meta, nil
}

// ListSymbols returns every symbol present in the tick tables with its most
// recent tick, ordered by symbol.
func (s *SQLCandleSource) ListSymbols(ctx context.Context) ([]models.AvailableSymbol, error) {
	out := make([]models.AvailableSymbol, 0, 16)
	for _, asset := range []string{"bitcoin", "forex"} {
		table := asset + "_ticks"
		rows, err := s.db.QueryContext(ctx, s.dialect.symbolsQuery(table))
		if err != nil {
			s.l.Error("list_symbols query error",
				applogger.String("table", table),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("list symbols: %w", err)
		}
		for rows.Next() {
			var (
				symbol string
				last   unixTime
			)
			if err := rows.Scan(&symbol, &last); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan symbol: %w", err)
			}
			item := models.AvailableSymbol{
				Symbol:  symbol,
				Label:   SymbolLabel(symbol),
				Source:  asset,
				HasData: true,
			}
			if last.Valid {
				ts := time.Unix(last.Unix, 0).UTC().Format(time.RFC3339)
				item.LastTick = &ts
			}
			out = append(out, item)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// unixTime scans DateTime, integer or text time columns into unix seconds.
type unixTime struct {
	Unix  int64
	Valid bool
}

func (u *unixTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		u.Unix, u.Valid = 0, false
	case time.Time:
		u.Unix, u.Valid = v.Unix(), true
	case int64:
		u.Unix, u.Valid = v, true
	case float64:
		u.Unix, u.Valid = int64(v), true
	case []byte:
		return u.parse(string(v))
	case string:
		return u.parse(v)
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
	return nil
}

func (u *unixTime) parse(s string) error {
	if t, ok := util.ParseTime(s); ok {
		u.Unix, u.Valid = t.Unix(), true
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		u.Unix, u.Valid = n, true
		return nil
	}
	return fmt.Errorf("unparseable time %q", s)
}
