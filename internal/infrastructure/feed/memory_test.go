package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

func TestMemoryFeedBounded(t *testing.T) {
	f := NewMemoryFeed(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		f.Record("worker-a", sample.Interaction{Timestamp: base.Add(time.Duration(i) * time.Second), Quality: float64(i) / 10})
	}
	f.Record("worker-b", sample.Interaction{Quality: 1})

	ctx := context.Background()
	units, err := f.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-a", "worker-b"}, units)

	recent, err := f.Recent(ctx, "worker-a", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 0.2, recent[0].Quality, "oldest entries evicted first")

	limited, err := f.Recent(ctx, "worker-a", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.4}, sample.Qualities(limited))

	missing, err := f.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMemoryFeedAppend(t *testing.T) {
	var w sample.Writer = NewMemoryFeed(10)
	require.NoError(t, w.Append(context.Background(), "worker-a", sample.Interaction{Quality: 0.5}, sample.Interaction{Quality: 0.7}))

	recent, err := w.(sample.Source).Recent(context.Background(), "worker-a", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.7}, sample.Qualities(recent))
}
