package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceIsZeroForIdenticalPoints(t *testing.T) {
	points := [][2]float64{{0, 0}, {-23.5505, -46.6333}, {89.9, 179.9}, {-45, -120}}
	for _, p := range points {
		require.Zero(t, Distance(p[0], p[1], p[0], p[1]))
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{0, 0, 0, 0.0009},
		{-23.5505, -46.6333, -22.9068, -43.1729},
		{51.5074, -0.1278, 40.7128, -74.0060},
		{10, 170, -10, -170},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1], p[2], p[3])
		ba := Distance(p[2], p[3], p[0], p[1])
		require.InDelta(t, ab, ba, 1e-6)
		require.False(t, math.IsNaN(ab))
		require.GreaterOrEqual(t, ab, 0.0)
	}
}

func TestDistanceGrowsWithSeparation(t *testing.T) {
	prev := 0.0
	for step := 1; step <= 50; step++ {
		d := Distance(0, 0, 0, float64(step)*0.001)
		require.Greater(t, d, prev)
		prev = d
	}
}

func TestDistanceKnownValues(t *testing.T) {
	// One degree of longitude on the equator.
	require.InDelta(t, 111194.9, Distance(0, 0, 0, 1), 0.5)
	require.InDelta(t, 100.08, Distance(0, 0, 0, 0.0009), 0.05)
	require.InDelta(t, 222.39, Distance(0, 0, 0, 0.002), 0.05)
	// Antipodal points stay finite.
	require.InDelta(t, math.Pi*EarthRadiusMeters, Distance(0, 0, 0, 180), 1)
}
