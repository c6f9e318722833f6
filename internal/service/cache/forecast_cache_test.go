package cache

import (
	"context"
	"testing"
	"time"

	"GridCast/internal/domain/models"
	pkgcache "GridCast/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastCacheRoundTrip(t *testing.T) {
	mem := pkgcache.NewMemoryCache()
	defer mem.Close()
	c := NewForecastCache(mem, time.Minute, nil)
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f := &models.Forecast{
		ModelVersion: "v1",
		Horizon:      2,
		GeneratedAt:  at,
		Points: []models.ForecastPoint{
			{Timestamp: at.Add(time.Hour), PredictedPrice: 40, ConfidenceLower: 35, ConfidenceUpper: 45, ConfidenceScore: 0.9},
		},
	}
	c.Set(ctx, f)

	got, ok := c.Get(ctx, "v1", 2)
	require.True(t, ok)
	assert.Equal(t, f, got)

	_, ok = c.Get(ctx, "v1", 3)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "v2", 2)
	assert.False(t, ok)

	require.NoError(t, c.Invalidate(ctx))
	_, ok = c.Get(ctx, "v1", 2)
	assert.False(t, ok)
}

func TestForecastCacheDisabledWithoutTTL(t *testing.T) {
	mem := pkgcache.NewMemoryCache()
	defer mem.Close()
	c := NewForecastCache(mem, 0, nil)

	c.Set(context.Background(), &models.Forecast{ModelVersion: "v1", Horizon: 1})
	_, ok := c.Get(context.Background(), "v1", 1)
	assert.False(t, ok)
}
