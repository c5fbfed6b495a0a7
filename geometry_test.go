package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeometryRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		lowest  int64
		highest int64
		sigFigs int64
	}{
		{"zero lowest", 0, 100, 3},
		{"negative lowest", -1, 100, 3},
		{"highest below 2x lowest", 10, 15, 3},
		{"sig figs too low", 1, 100, -1},
		{"sig figs too high", 1, 100, 6},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := newGeometry(tc.lowest, tc.highest, tc.sigFigs)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGeometryIndexRoundTrip(t *testing.T) {
	t.Parallel()
	g, err := newGeometry(1, 3600000000, 3)
	require.NoError(t, err)

	for _, v := range []int64{0, 1, 2, 100, 1000, 999999, 3599999999} {
		idx := g.countsArrayIndexFor(v)
		require.GreaterOrEqualf(t, idx, int32(0), "value %d should fit", v)
		back := g.valueFromCountsIndex(idx)
		assert.True(t, g.valuesAreEquivalent(v, back), "value %d round-tripped to non-equivalent %d", v, back)
	}
}

func TestGeometryCoversValue(t *testing.T) {
	t.Parallel()
	g, err := newGeometry(1, 1000, 3)
	require.NoError(t, err)

	assert.True(t, g.CoversValue(500))
	assert.False(t, g.CoversValue(-1))
}

func TestSizeOfEquivalentValueRangeGrowsWithMagnitude(t *testing.T) {
	t.Parallel()
	g, err := newGeometry(1, 3600000000, 3)
	require.NoError(t, err)

	small := g.sizeOfEquivalentValueRange(100)
	large := g.sizeOfEquivalentValueRange(1_000_000_000)
	assert.Less(t, small, large)
}

func TestLowestHighestMedianEquivalentValue(t *testing.T) {
	t.Parallel()
	g, err := newGeometry(1, 3600000000, 3)
	require.NoError(t, err)

	v := int64(1_000_000)
	lo := g.lowestEquivalentValue(v)
	hi := g.highestEquivalentValue(v)
	med := g.medianEquivalentValue(v)
	assert.LessOrEqual(t, lo, v)
	assert.GreaterOrEqual(t, hi, v)
	assert.GreaterOrEqual(t, med, lo)
	assert.LessOrEqual(t, med, hi)
	assert.Equal(t, hi+1, g.nextNonEquivalentValue(v))
}

func TestSameLayout(t *testing.T) {
	t.Parallel()
	a, err := newGeometry(1, 1000, 3)
	require.NoError(t, err)
	b, err := newGeometry(1, 1000, 3)
	require.NoError(t, err)
	c, err := newGeometry(1, 1000, 2)
	require.NoError(t, err)

	assert.True(t, a.sameLayout(b))
	assert.False(t, a.sameLayout(c))
}
