package predictive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/performance-control-loop/internal/testutil/fixtures"
)

func pointValues(ps []point) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = p.Value
	}
	return out
}

func TestVolumeBucketsEmitClosedPeriods(t *testing.T) {
	v := newVolumeBuckets(time.Hour, 100)

	assert.Nil(t, v.close(fixtures.Epoch), "nothing counted yet")

	for _, m := range []int{0, 5, 59, 61, 190} {
		assert.True(t, v.count(fixtures.Epoch.Add(time.Duration(m)*time.Minute)))
	}
	assert.Empty(t, v.close(fixtures.Epoch.Add(59*time.Minute)), "first hour still open")

	got := v.close(fixtures.Epoch.Add(4 * time.Hour))
	assert.Equal(t, []float64{3, 1, 0, 1}, pointValues(got))
	assert.Equal(t, fixtures.Epoch, got[0].At)
	assert.Equal(t, fixtures.Epoch.Add(3*time.Hour), got[3].At)

	assert.False(t, v.count(fixtures.Epoch.Add(90*time.Minute)), "period already emitted")
	assert.True(t, v.count(fixtures.Epoch.Add(4*time.Hour)))
	assert.Empty(t, v.close(fixtures.Epoch.Add(4*time.Hour+time.Minute)))
	assert.Equal(t, []float64{1}, pointValues(v.close(fixtures.Epoch.Add(5*time.Hour))))
}

func TestVolumeBucketsSkipTruncatedPeriod(t *testing.T) {
	v := newVolumeBuckets(time.Hour, 100)
	v.truncatedBefore(fixtures.Epoch.Add(40 * time.Minute))
	for _, m := range []int{40, 50, 70, 130} {
		v.count(fixtures.Epoch.Add(time.Duration(m) * time.Minute))
	}

	got := v.close(fixtures.Epoch.Add(3 * time.Hour))

	assert.Equal(t, []float64{1, 1}, pointValues(got), "the partial first hour is not recorded")
	assert.Equal(t, fixtures.Epoch.Add(time.Hour), got[0].At)

	v.truncatedBefore(fixtures.Epoch.Add(10 * time.Hour))
	v.count(fixtures.Epoch.Add(3 * time.Hour))
	assert.Equal(t, []float64{1}, pointValues(v.close(fixtures.Epoch.Add(4*time.Hour))), "only the first emission honours truncation")
}

func TestVolumeBucketsKeepRecentPeriods(t *testing.T) {
	v := newVolumeBuckets(time.Hour, 3)
	v.count(fixtures.Epoch)

	got := v.close(fixtures.Epoch.Add(10 * time.Hour))

	assert.Len(t, got, 3)
	assert.Equal(t, fixtures.Epoch.Add(7*time.Hour), got[0].At)
}
