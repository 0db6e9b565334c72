package usecase

import (
	"ChartSync/internal/domain/models"
	domrepo "ChartSync/internal/domain/repository"
	"ChartSync/pkg/cache"
	"ChartSync/pkg/util"
)

// NormalizeRangeKey builds the cache fingerprint for a range request.
// Both boundaries are floored to the timeframe's bucket width so that
// requests computed a few seconds apart land on the same key.
func NormalizeRangeKey(symbol string, tf domrepo.Timeframe, from, to int64) string {
	w := tf.BucketSeconds()
	return cache.GenerateKeyWithParams("-", symbol, tf, util.FloorUnix(from, w), util.FloorUnix(to, w))
}

// normalizedRange returns the floored range that NormalizeRangeKey encodes.
func normalizedRange(tf domrepo.Timeframe, r models.TimeRange) models.TimeRange {
	w := tf.BucketSeconds()
	return models.TimeRange{From: util.FloorUnix(r.From, w), To: util.FloorUnix(r.To, w)}
}
