package repository

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTimeframe is returned for timeframes outside the ladder.
var ErrUnknownTimeframe = errors.New("unknown timeframe")

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF12h Timeframe = "12h"
)

// Ladder lists the supported timeframes from finest to coarsest.
var Ladder = []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h, TF12h}

type tfSpec struct {
	period time.Duration
	bucket time.Duration // cache key rounding width
	window time.Duration // default fetch window
}

const day = 24 * time.Hour

var specs = map[Timeframe]tfSpec{
	TF1m:  {period: time.Minute, bucket: 5 * time.Minute, window: 30 * day},
	TF5m:  {period: 5 * time.Minute, bucket: 15 * time.Minute, window: 30 * day},
	TF15m: {period: 15 * time.Minute, bucket: time.Hour, window: 90 * day},
	TF1h:  {period: time.Hour, bucket: 2 * time.Hour, window: 90 * day},
	TF4h:  {period: 4 * time.Hour, bucket: 4 * time.Hour, window: 180 * day},
	TF12h: {period: 12 * time.Hour, bucket: 12 * time.Hour, window: 180 * day},
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := specs[tf]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1h }

// ParseTimeframe validates a raw timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if tf, err := ParseTimeframe(s); err == nil {
		return tf
	}
	return DefaultTimeframe()
}

// PeriodSeconds is the candle duration in seconds (0 if unknown).
func (tf Timeframe) PeriodSeconds() int64 {
	return int64(specs[tf].period / time.Second)
}

// BucketSeconds is the width cache-key range boundaries are floored to.
// Unknown timeframes fall back to one hour.
func (tf Timeframe) BucketSeconds() int64 {
	if s, ok := specs[tf]; ok {
		return int64(s.bucket / time.Second)
	}
	return 3600
}

// DefaultWindow is the span fetched when no range is known for a pair.
func (tf Timeframe) DefaultWindow() time.Duration {
	if s, ok := specs[tf]; ok {
		return s.window
	}
	return 90 * day
}

func (tf Timeframe) index() int {
	for i, t := range Ladder {
		if t == tf {
			return i
		}
	}
	return -1
}

// Finer returns the next finer timeframe, false on the finest rung.
func (tf Timeframe) Finer() (Timeframe, bool) {
	i := tf.index()
	if i <= 0 {
		return "", false
	}
	return Ladder[i-1], true
}

// Coarser returns the next coarser timeframe, false on the coarsest rung.
func (tf Timeframe) Coarser() (Timeframe, bool) {
	i := tf.index()
	if i < 0 || i == len(Ladder)-1 {
		return "", false
	}
	return Ladder[i+1], true
}

// Ratio returns coarse/fine period ratio between two timeframes.
func Ratio(fine, coarse Timeframe) float64 {
	f := fine.PeriodSeconds()
	if f == 0 {
		return 1
	}
	return float64(coarse.PeriodSeconds()) / float64(f)
}

func (tf Timeframe) String() string { return string(tf) }
