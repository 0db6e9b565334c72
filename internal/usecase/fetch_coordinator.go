package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/pkg/cache"
	applogger "ChartSync/pkg/logger"
	"ChartSync/pkg/util"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a fetched range is served without a backend call.
const DefaultCacheTTL = 10 * time.Minute

// DefaultMetadataTTL is how long a dedicated metadata answer is reused.
const DefaultMetadataTTL = 5 * time.Minute

// ErrInvalidRange is returned when a caller range has from > to.
var ErrInvalidRange = errors.New("invalid range: from must be <= to")

// FetchOptions tune a single Fetch call.
type FetchOptions struct {
	Range        *models.TimeRange
	ForceRefresh bool
}

// CoordinatorOption configures FetchCoordinator.
type CoordinatorOption func(*FetchCoordinator)

// WithCacheTTL sets the freshness window for cached ranges.
func WithCacheTTL(ttl time.Duration) CoordinatorOption {
	return func(c *FetchCoordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMetadataTTL sets the freshness window for dedicated metadata answers.
func WithMetadataTTL(ttl time.Duration) CoordinatorOption {
	return func(c *FetchCoordinator) {
		if ttl > 0 {
			c.metaTTL = ttl
		}
	}
}

// WithCoordinatorClock overrides the wall clock.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *FetchCoordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCoordinatorLogger injects a structured logger.
func WithCoordinatorLogger(l *applogger.Logger) CoordinatorOption {
	return func(c *FetchCoordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCoordinatorMetrics injects a metrics recorder.
func WithCoordinatorMetrics(m domrepo.Metrics) CoordinatorOption {
	return func(c *FetchCoordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

type metadataEntry struct {
	Metadata *models.SymbolMetadata `json:"metadata"`
	CachedAt time.Time              `json:"cached_at"`
}

type pendingRequest struct {
	waiters int
}

// FetchCoordinator owns the candle cache and the in-flight request table.
// At most one backend call is outstanding per cache key.
type FetchCoordinator struct {
	source  domrepo.CandleSource
	store   cache.Service
	metrics domrepo.Metrics
	logger  *applogger.Logger
	ttl     time.Duration
	metaTTL time.Duration
	now     func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	defaults map[string]models.TimeRange
}

// NewFetchCoordinator creates a coordinator over a backend and a cache store.
func NewFetchCoordinator(source domrepo.CandleSource, store cache.Service, opts ...CoordinatorOption) *FetchCoordinator {
	c := &FetchCoordinator{
		source:   source,
		store:    store,
		metrics:  noopMetrics{},
		logger:   applogger.Nop(),
		ttl:      DefaultCacheTTL,
		metaTTL:  DefaultMetadataTTL,
		now:      time.Now,
		pending:  make(map[string]*pendingRequest),
		defaults: make(map[string]models.TimeRange),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns candles for symbol/tf over the effective range, from cache
// when fresh, otherwise from a single shared backend call.
func (c *FetchCoordinator) Fetch(ctx context.Context, symbol string, tf domrepo.Timeframe, opts FetchOptions) ([]models.Candle, error) {
	if symbol == "" {
		return []models.Candle{}, nil
	}
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("fetch: %w: %q", domrepo.ErrUnknownTimeframe, tf)
	}
	if opts.Range != nil && opts.Range.From > opts.Range.To {
		return nil, ErrInvalidRange
	}

	r := c.resolveRange(symbol, tf, opts.Range)
	key := NormalizeRangeKey(symbol, tf, r.From, r.To)

	if opts.ForceRefresh {
		c.metrics.RecordCacheResult("forced")
	} else {
		entry, state := c.lookup(ctx, key)
		c.metrics.RecordCacheResult(state)
		if entry != nil {
			c.logger.Debug("candle cache hit",
				applogger.String("key", key),
				applogger.Int("candles", len(entry.Candles)),
			)
			return entry.Candles, nil
		}
	}

	v, err := c.await(ctx, key, func() (interface{}, error) {
		if !opts.ForceRefresh {
			// an earlier flight for this key may have settled while we queued
			if entry, _ := c.lookup(ctx, key); entry != nil {
				return entry.Candles, nil
			}
		}
		return c.load(context.WithoutCancel(ctx), key, symbol, tf, r)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Candle), nil
}

// load performs the backend call and stores the converted result.
func (c *FetchCoordinator) load(ctx context.Context, key, symbol string, tf domrepo.Timeframe, r models.TimeRange) ([]models.Candle, error) {
	start := time.Now()
	resp, err := c.source.FetchCandles(ctx, symbol, tf, r.From, r.To)
	c.metrics.RecordBackendCall("candles", time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.Warn("candle fetch failed",
			applogger.String("key", key),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("fetch candles %s: %w", key, err)
	}

	candles := c.toCandles(key, tf, resp)
	var meta *models.SymbolMetadata
	if resp != nil {
		meta = resp.Metadata
	}

	entry := models.CacheEntry{
		Key:       key,
		Symbol:    symbol,
		Timeframe: string(tf),
		Candles:   candles,
		Metadata:  meta,
		CachedAt:  c.now(),
		Range:     normalizedRange(tf, r),
	}
	if err := c.store.Set(ctx, key, entry, c.ttl); err != nil {
		// the caller still gets its data; the next call simply misses
		c.metrics.RecordError("cache_write")
		c.logger.Warn("candle cache write failed", applogger.String("key", key), applogger.Error(err))
	}

	c.logger.Debug("candle cache update",
		applogger.String("key", key),
		applogger.Int("candles", len(candles)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return candles, nil
}

// GetMetadata returns the freshest metadata for symbol. Unexpired candle
// entries that report data win; otherwise a dedicated answer cached under
// meta:SYMBOL is reused, and failing that the backend is asked. Empty
// symbol yields nil.
func (c *FetchCoordinator) GetMetadata(ctx context.Context, symbol string) (*models.SymbolMetadata, error) {
	if symbol == "" {
		return nil, nil
	}

	keys, err := c.store.Keys(ctx, symbol+"-")
	if err != nil {
		c.logger.Warn("metadata cache scan failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
	var best *models.CacheEntry
	for _, k := range keys {
		entry, _ := c.lookup(ctx, k)
		// an empty window says nothing about the symbol's history
		if entry == nil || entry.Symbol != symbol || entry.Metadata == nil || !entry.Metadata.HasData {
			continue
		}
		if best == nil || entry.CachedAt.After(best.CachedAt) {
			best = entry
		}
	}
	if best != nil {
		return best.Metadata, nil
	}

	metaKey := metadataKey(symbol)
	if meta, ok := c.cachedMetadata(ctx, metaKey); ok {
		return meta, nil
	}

	v, err := c.await(ctx, metaKey, func() (interface{}, error) {
		if meta, ok := c.cachedMetadata(ctx, metaKey); ok {
			return meta, nil
		}
		start := time.Now()
		meta, err := c.source.FetchSymbolMetadata(context.WithoutCancel(ctx), symbol)
		c.metrics.RecordBackendCall("metadata", time.Since(start).Seconds(), err)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata %s: %w", symbol, err)
		}
		if meta != nil {
			entry := metadataEntry{Metadata: meta, CachedAt: c.now()}
			if err := c.store.Set(context.WithoutCancel(ctx), metaKey, entry, c.metaTTL); err != nil {
				c.metrics.RecordError("cache_write")
				c.logger.Warn("metadata cache write failed", applogger.String("key", metaKey), applogger.Error(err))
			}
		}
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SymbolMetadata), nil
}

func (c *FetchCoordinator) cachedMetadata(ctx context.Context, key string) (*models.SymbolMetadata, bool) {
	entry, err := cache.GetTyped[metadataEntry](ctx, c.store, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.metrics.RecordError("cache_read")
			c.logger.Warn("metadata cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	if entry.Metadata == nil || c.now().Sub(entry.CachedAt) >= c.metaTTL {
		return nil, false
	}
	return entry.Metadata, true
}

// ListSymbols returns the symbols the backend holds ticks for.
func (c *FetchCoordinator) ListSymbols(ctx context.Context) ([]models.AvailableSymbol, error) {
	start := time.Now()
	symbols, err := c.source.ListSymbols(ctx)
	c.metrics.RecordBackendCall("symbols", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return symbols, nil
}

// Invalidate drops every entry whose key contains pattern; empty clears all.
func (c *FetchCoordinator) Invalidate(ctx context.Context, pattern string) error {
	if err := c.store.DeleteByPattern(ctx, pattern); err != nil {
		return fmt.Errorf("invalidate %q: %w", pattern, err)
	}
	c.logger.Info("candle cache invalidated", applogger.String("pattern", pattern))
	return nil
}

// CancelPending forgets every in-flight request. Underlying backend calls
// are not aborted and current waiters still receive their results; new
// callers start fresh calls.
func (c *FetchCoordinator) CancelPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	for key := range c.pending {
		c.group.Forget(key)
	}
	c.pending = make(map[string]*pendingRequest)
	c.metrics.SetPendingRequests(0)
	return n
}

// PendingCount reports how many keys have an in-flight request.
func (c *FetchCoordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingKeys lists keys with an in-flight request.
func (c *FetchCoordinator) PendingKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultRange returns the remembered default window for symbol/tf.
func (c *FetchCoordinator) DefaultRange(symbol string, tf domrepo.Timeframe) (models.TimeRange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.defaults[defaultsKey(symbol, tf)]
	return r, ok
}

// SetDefaultRange overrides the remembered default window for symbol/tf.
func (c *FetchCoordinator) SetDefaultRange(symbol string, tf domrepo.Timeframe, r models.TimeRange) {
	c.mu.Lock()
	c.defaults[defaultsKey(symbol, tf)] = r
	c.mu.Unlock()
}

func (c *FetchCoordinator) resolveRange(symbol string, tf domrepo.Timeframe, explicit *models.TimeRange) models.TimeRange {
	k := defaultsKey(symbol, tf)

	c.mu.Lock()
	defer c.mu.Unlock()

	if explicit != nil {
		c.defaults[k] = *explicit
		return *explicit
	}
	if r, ok := c.defaults[k]; ok {
		return r
	}
	now := c.now().Unix()
	r := models.TimeRange{From: now - int64(tf.DefaultWindow()/time.Second), To: now}
	c.defaults[k] = r
	return r
}

// await joins or starts the shared call for key and waits for its result
// or for ctx to end, whichever comes first.
func (c *FetchCoordinator) await(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok {
		p = &pendingRequest{}
		c.pending[key] = p
	}
	p.waiters++
	c.metrics.SetPendingRequests(len(c.pending))
	c.mu.Unlock()

	defer c.release(key, p)

	ch := c.group.DoChan(key, fn)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *FetchCoordinator) release(key string, p *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p.waiters--
	if p.waiters <= 0 && c.pending[key] == p {
		delete(c.pending, key)
	}
	c.metrics.SetPendingRequests(len(c.pending))
}

// waiters reports how many callers are queued on key.
func (c *FetchCoordinator) waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[key]; ok {
		return p.waiters
	}
	return 0
}

// lookup returns a fresh entry for key and the lookup outcome label.
func (c *FetchCoordinator) lookup(ctx context.Context, key string) (*models.CacheEntry, string) {
	entry, err := cache.GetTyped[models.CacheEntry](ctx, c.store, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.metrics.RecordError("cache_read")
			c.logger.Warn("candle cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, "miss"
	}
	if c.now().Sub(entry.CachedAt) >= c.ttl {
		return nil, "stale"
	}
	return entry, "hit"
}

// toCandles converts the backend payload into ordered, unique candles.
// A missing payload degrades to an empty result.
func (c *FetchCoordinator) toCandles(key string, tf domrepo.Timeframe, resp *models.CandleResponse) []models.Candle {
	if resp == nil || resp.Candles == nil {
		c.metrics.RecordError("malformed_response")
		c.logger.Warn("candle response missing payload, treating as empty", applogger.String("key", key))
		return []models.Candle{}
	}

	period := tf.PeriodSeconds()
	out := make([]models.Candle, 0, len(resp.Candles))
	skipped := 0
	for _, raw := range resp.Candles {
		ts, okT := util.ParseTime(raw.Time)
		o, okO := util.ParseFloat(raw.Open)
		h, okH := util.ParseFloat(raw.High)
		l, okL := util.ParseFloat(raw.Low)
		cl, okC := util.ParseFloat(raw.Close)
		if !okT || !okO || !okH || !okL || !okC {
			skipped++
			continue
		}
		out = append(out, models.Candle{
			Time:  util.FloorUnix(ts.Unix(), period),
			Open:  o,
			High:  h,
			Low:   l,
			Close: cl,
		})
	}
	if skipped > 0 {
		c.metrics.RecordError("malformed_candle")
		c.logger.Warn("skipped unparsable candles",
			applogger.String("key", key),
			applogger.Int("skipped", skipped),
		)
	}
	return sortUnique(out)
}

// sortUnique orders candles by time; on duplicate times the later row wins.
func sortUnique(in []models.Candle) []models.Candle {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Time < in[j].Time })
	out := in[:0]
	for _, cd := range in {
		if n := len(out); n > 0 && out[n-1].Time == cd.Time {
			out[n-1] = cd
			continue
		}
		out = append(out, cd)
	}
	return out
}

func metadataKey(symbol string) string {
	return "meta:" + symbol
}

func defaultsKey(symbol string, tf domrepo.Timeframe) string {
	return symbol + "|" + string(tf)
}
