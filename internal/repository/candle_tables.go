package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	domrepo "ChartSync/internal/domain/repository"
)

// ErrUnknownAsset is returned for symbols that map to no candle table.
var ErrUnknownAsset = errors.New("unknown asset type")

var forexCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CHF": true, "CAD": true, "AUD": true, "NZD": true,
}

// AssetClass routes a symbol to its table family: "bitcoin" or "forex".
func AssetClass(symbol string) (string, error) {
	if symbol == "BTCUSD" || symbol == "BTC/USD" {
		return "bitcoin", nil
	}
	if isForexPair(symbol) {
		return "forex", nil
	}
	return "", fmt.Errorf("%w for symbol: %s", ErrUnknownAsset, symbol)
}

func isForexPair(symbol string) bool {
	switch {
	case len(symbol) == 6:
		return forexCurrencies[symbol[:3]] && forexCurrencies[symbol[3:]]
	case len(symbol) == 7 && strings.Count(symbol, "/") == 1:
		base, quote, _ := strings.Cut(symbol, "/")
		return forexCurrencies[base] && forexCurrencies[quote]
	}
	return false
}

// CandleTable returns "<asset>_candles_<tf>".
func CandleTable(symbol string, tf domrepo.Timeframe) (string, error) {
	asset, err := AssetClass(symbol)
	if err != nil {
		return "", err
	}
	if !domrepo.IsValidTimeframe(tf) {
		return "", fmt.Errorf("%w: %q", domrepo.ErrUnknownTimeframe, tf)
	}
	return asset + "_candles_" + string(tf), nil
}

// SymbolLabel renders six-letter pairs as BASE/QUOTE.
func SymbolLabel(symbol string) string {
	if len(symbol) == 6 && !strings.Contains(symbol, "/") {
		return symbol[:3] + "/" + symbol[3:]
	}
	return symbol
}

// TicksTable returns "<asset>_ticks", the source of symbol metadata.
func TicksTable(symbol string) (string, error) {
	asset, err := AssetClass(symbol)
	if err != nil {
		return "", err
	}
	return asset + "_ticks", nil
}

// Dialect selects SQL text and parameter encoding per driver.
type Dialect string

const (
	DialectClickHouse Dialect = "clickhouse"
	DialectSQLite     Dialect = "sqlite"
)

func (d Dialect) candleQuery(table string) string {
	if d == DialectSQLite {
		return fmt.Sprintf(`
        SELECT time, CAST(open AS TEXT), CAST(high AS TEXT), CAST(low AS TEXT), CAST(close AS TEXT), tick_count
        FROM %s
        WHERE symbol = ? AND time >= ? AND time <= ?
        ORDER BY time ASC
    `, table)
	}
	return fmt.Sprintf(`
        SELECT time, toString(open), toString(high), toString(low), toString(close), toInt64(tick_count) AS volume
        FROM %s
        WHERE symbol = ? AND time >= ? AND time <= ?
        ORDER BY time ASC
    `, table)
}

func (d Dialect) metadataQuery(table string) string {
	return fmt.Sprintf(`
        SELECT MIN(time), MAX(time), COUNT(*)
        FROM %s
        WHERE symbol = ?
    `, table)
}

func (d Dialect) symbolsQuery(table string) string {
	return fmt.Sprintf(`
        SELECT symbol, MAX(time)
        FROM %s
        GROUP BY symbol
        ORDER BY symbol
    `, table)
}

// bindTime encodes unix seconds the way the driver's time column expects.
func (d Dialect) bindTime(unix int64) any {
	if d == DialectSQLite {
		return unix
	}
	return time.Unix(unix, 0).UTC()
}

// SchemaStatements returns idempotent DDL for every candle and tick table.
func SchemaStatements(d Dialect) []string {
	var stmts []string
	for _, asset := range []string{"bitcoin", "forex"} {
		for _, tf := range domrepo.Ladder {
			table := asset + "_candles_" + string(tf)
			if d == DialectSQLite {
				stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol     TEXT NOT NULL,
			time       INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			tick_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, time)
		)`, table))
				continue
			}
			stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (symbol String, time DateTime, open Float64, high Float64, low Float64, close Float64, tick_count UInt32) ENGINE=ReplacingMergeTree ORDER BY (symbol, time)", table))
		}
		ticks := asset + "_ticks"
		if d == DialectSQLite {
			stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			time   INTEGER NOT NULL,
			bid    REAL,
			ask    REAL
		)`, ticks))
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (symbol String, time DateTime64(3), bid Float64, ask Float64) ENGINE=MergeTree ORDER BY (symbol, time)", ticks))
	}
	return stmts
}
