package usecase

import (
	"testing"
	"time"

	"ChartSync/internal/domain/models"

	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) (*LiveReconciler, *fakeClock) {
	t.Helper()
	clock := newFakeClock(time.Unix(baseUnix, 0))
	return NewLiveReconciler(WithReconcilerClock(clock.Now)), clock
}

func TestReconciler_PlaceholderPromotedByRefresh(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{
		bar(100, 4, 5, 3, 4.5),
		bar(200, 4.5, 5.5, 4, 5),
	})
	require.True(t, r.CreatePlaceholder(300))

	ph, ok := r.Placeholder()
	require.True(t, ok)
	require.Equal(t, int64(300), ph)
	require.Equal(t, bar(300, 5, 5, 5, 5), r.Buffer()[2])
	require.True(t, r.Buffer()[2].IsPlaceholder())

	got := r.MergeRefresh([]models.Candle{
		bar(200, 4.5, 5.6, 4, 5),
		bar(300, 5, 6, 5, 5.8),
	})
	require.Equal(t, []models.Candle{
		bar(100, 4, 5, 3, 4.5),
		bar(200, 4.5, 5.6, 4, 5),
		bar(300, 5, 6, 5, 5.8),
	}, got)
	_, ok = r.Placeholder()
	require.False(t, ok)
}

func TestReconciler_PlaceholderSurvivesRefreshWithoutIt(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{
		bar(100, 4, 5, 3, 4.5),
		bar(200, 4.5, 5.5, 4, 5),
	})
	require.True(t, r.CreatePlaceholder(300))

	got := r.MergeRefresh([]models.Candle{bar(200, 4.5, 5.7, 4, 5.2)})
	require.Equal(t, []models.Candle{
		bar(100, 4, 5, 3, 4.5),
		bar(200, 4.5, 5.7, 4, 5.2),
		bar(300, 5, 5, 5, 5),
	}, got)
	ph, ok := r.Placeholder()
	require.True(t, ok)
	require.Equal(t, int64(300), ph)
}

func TestReconciler_PlaceholderPromotedAsFirstRefreshedCandle(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{bar(100, 1, 2, 1, 2)})
	require.True(t, r.CreatePlaceholder(200))

	got := r.MergeRefresh([]models.Candle{bar(200, 2, 3, 2, 2.5)})
	require.Equal(t, []models.Candle{bar(100, 1, 2, 1, 2), bar(200, 2, 3, 2, 2.5)}, got)
	_, ok := r.Placeholder()
	require.False(t, ok)
}

func TestReconciler_MergeIntoEmptyBuffer(t *testing.T) {
	r, _ := newTestReconciler(t)

	got := r.MergeRefresh([]models.Candle{bar(200, 1, 1, 1, 1), bar(100, 2, 2, 2, 2)})
	require.Equal(t, []models.Candle{bar(100, 2, 2, 2, 2), bar(200, 1, 1, 1, 1)}, got)
}

func TestReconciler_MergeKeepsHistoryAndOrdering(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{bar(100, 1, 1, 1, 1), bar(200, 2, 2, 2, 2), bar(300, 3, 3, 3, 3)})

	got := r.MergeRefresh([]models.Candle{
		bar(400, 4, 4, 4, 4),
		bar(250, 9, 9, 9, 9),
		bar(400, 5, 5, 5, 5),
	})
	require.Equal(t, []models.Candle{
		bar(100, 1, 1, 1, 1),
		bar(200, 2, 2, 2, 2),
		bar(250, 9, 9, 9, 9),
		bar(400, 5, 5, 5, 5),
	}, got)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].Time, got[i].Time)
	}
}

func TestReconciler_EmptyRefreshLeavesBuffer(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{bar(100, 1, 1, 1, 1)})

	require.Equal(t, []models.Candle{bar(100, 1, 1, 1, 1)}, r.MergeRefresh(nil))
}

func TestReconciler_CreatePlaceholderGuards(t *testing.T) {
	r, clock := newTestReconciler(t)

	require.False(t, r.CreatePlaceholder(100), "empty buffer")

	r.Reset([]models.Candle{bar(100, 1, 2, 1, 2)})
	require.False(t, r.CreatePlaceholder(100), "not after last candle")
	require.False(t, r.CreatePlaceholder(50), "inside history")

	require.True(t, r.CreatePlaceholder(200))
	require.False(t, r.CreatePlaceholder(300), "armed")

	clock.Advance(DefaultPlaceholderWindow - time.Millisecond)
	require.False(t, r.CreatePlaceholder(300), "still armed")

	clock.Advance(time.Millisecond)
	require.True(t, r.CreatePlaceholder(300))
	ph, _ := r.Placeholder()
	require.Equal(t, int64(300), ph)
	// the unconfirmed bar at 200 is replaced, not stacked
	require.Equal(t, []models.Candle{bar(100, 1, 2, 1, 2), bar(300, 2, 2, 2, 2)}, r.Buffer())
}

func TestReconciler_KeepsConfirmedBarWhenNextPlaceholderArrives(t *testing.T) {
	r, clock := newTestReconciler(t)
	r.Reset([]models.Candle{bar(100, 1, 2, 1, 2)})
	require.True(t, r.CreatePlaceholder(200))

	// a refresh covering only history leaves the placeholder outstanding
	r.MergeRefresh([]models.Candle{bar(100, 1, 2.5, 1, 2.2)})
	clock.Advance(DefaultPlaceholderWindow)
	require.True(t, r.CreatePlaceholder(300))

	got := r.Buffer()
	require.Equal(t, []models.Candle{bar(100, 1, 2.5, 1, 2.2), bar(300, 2.2, 2.2, 2.2, 2.2)}, got)
	flat := 0
	for _, c := range got {
		if c.IsPlaceholder() {
			flat++
		}
	}
	require.Equal(t, 1, flat)

	// once promoted, the next period stacks after the authoritative bar
	r.MergeRefresh([]models.Candle{bar(300, 2.2, 2.6, 2.1, 2.4)})
	clock.Advance(DefaultPlaceholderWindow)
	require.True(t, r.CreatePlaceholder(400))
	require.Equal(t, []models.Candle{
		bar(100, 1, 2.5, 1, 2.2),
		bar(300, 2.2, 2.6, 2.1, 2.4),
		bar(400, 2.4, 2.4, 2.4, 2.4),
	}, r.Buffer())
}

func TestReconciler_ResetClearsPlaceholder(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{bar(100, 1, 2, 1, 2)})
	require.True(t, r.CreatePlaceholder(200))

	r.Reset([]models.Candle{bar(500, 1, 1, 1, 1)})
	_, ok := r.Placeholder()
	require.False(t, ok)
	// reset disarms the guard too
	require.True(t, r.CreatePlaceholder(600))
}

func TestReconciler_BufferIsACopy(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.Reset([]models.Candle{bar(100, 1, 2, 1, 2)})

	buf := r.Buffer()
	buf[0].Close = 99
	last, ok := r.Last()
	require.True(t, ok)
	require.Equal(t, 2.0, last.Close)
}
