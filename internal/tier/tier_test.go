package tier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ReferenceThresholds(t *testing.T) {
	table := DefaultTable()

	cases := []struct {
		lifetime int64
		want     string
	}{
		{0, Bronze},
		{499, Bronze},
		{500, Silver},
		{1000, Silver},
		{1999, Silver},
		{2000, Gold},
		{4999, Gold},
		{5000, Platinum},
		{1_000_000, Platinum},
	}
	for _, tc := range cases {
		got, err := table.Resolve(tc.lifetime)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Name, "lifetime %d", tc.lifetime)
	}
}

func TestResolve_NegativeIsRejected(t *testing.T) {
	_, err := DefaultTable().Resolve(-1)
	assert.ErrorIs(t, err, ErrNegativeLifetime)
}

func TestResolve_IsMonotonic(t *testing.T) {
	table := DefaultTable()
	prev := -1
	for p := int64(0); p <= 6000; p += 7 {
		got, err := table.Resolve(p)
		require.NoError(t, err)
		rank := table.Rank(got.Name)
		assert.GreaterOrEqual(t, rank, prev, "tier regressed at %d", p)
		prev = rank
	}
}

func TestProgress(t *testing.T) {
	table := DefaultTable()

	assert.Equal(t, 0, table.Progress(0))
	assert.Equal(t, 50, table.Progress(250))
	assert.Equal(t, 99, table.Progress(499))
	assert.Equal(t, 0, table.Progress(500))
	assert.Equal(t, 33, table.Progress(1000))
	assert.Equal(t, 0, table.Progress(2000))
	assert.Equal(t, 100, table.Progress(5000))
	assert.Equal(t, 100, table.Progress(90000))
}

func TestProgress_MonotonicWithinBandAndResetsAtBoundary(t *testing.T) {
	table := DefaultTable()
	prevTier := ""
	prev := 0
	for p := int64(0); p < 5000; p++ {
		cur, _ := table.Resolve(p)
		got := table.Progress(p)
		require.GreaterOrEqual(t, got, 0)
		require.LessOrEqual(t, got, 100)
		if cur.Name != prevTier {
			assert.Equal(t, 0, got, "progress must reset when entering %s at %d", cur.Name, p)
		} else {
			assert.GreaterOrEqual(t, got, prev, "progress decreased at %d", p)
		}
		prevTier, prev = cur.Name, got
	}
}

func TestPointsToNext(t *testing.T) {
	table := DefaultTable()
	assert.Equal(t, int64(500), table.PointsToNext(0))
	assert.Equal(t, int64(1000), table.PointsToNext(1000))
	assert.Equal(t, int64(0), table.PointsToNext(7000))
}

func TestApplyMultiplier_ExactDecimal(t *testing.T) {
	silver := Tier{PointsMultiplier: decimal.RequireFromString("1.25")}
	assert.Equal(t, int64(1250), silver.ApplyMultiplier(1000))
	assert.Equal(t, int64(1), silver.ApplyMultiplier(1))

	odd := Tier{PointsMultiplier: decimal.RequireFromString("1.15")}
	assert.Equal(t, int64(115), odd.ApplyMultiplier(100))
}

func TestNewTable_Validation(t *testing.T) {
	one := decimal.NewFromInt(1)

	_, err := NewTable(nil)
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = NewTable([]Tier{{Name: "a", MinLifetimePoints: 10, PointsMultiplier: one}})
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = NewTable([]Tier{
		{Name: "a", MinLifetimePoints: 0, PointsMultiplier: one},
		{Name: "b", MinLifetimePoints: 0, PointsMultiplier: one},
	})
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = NewTable([]Tier{
		{Name: "a", MinLifetimePoints: 0, PointsMultiplier: decimal.RequireFromString("0.5")},
	})
	assert.ErrorIs(t, err, ErrInvalidTable)

	table, err := NewTable([]Tier{
		{Name: "top", MinLifetimePoints: 100, PointsMultiplier: one},
		{Name: "base", MinLifetimePoints: 0, PointsMultiplier: one},
	})
	require.NoError(t, err)
	assert.Equal(t, "base", table.Lowest().Name)
	next, ok := table.Next("base")
	require.True(t, ok)
	assert.Equal(t, "top", next.Name)
	_, ok = table.Next("top")
	assert.False(t, ok)
}
