// Package cache keeps recent forecast responses so repeated API calls skip
// the recursive prediction.
package cache

import (
	"context"
	"errors"
	"time"

	"GridCast/internal/domain/models"
	pkgcache "GridCast/pkg/cache"
	applogger "GridCast/pkg/logger"
)

const forecastPrefix = "forecast"

// ForecastCache stores forecasts under forecast:<version>:<hours>. Cache
// failures are logged and treated as misses.
type ForecastCache struct {
	svc pkgcache.Service
	ttl time.Duration
	l   *applogger.Logger
}

func NewForecastCache(svc pkgcache.Service, ttl time.Duration, l *applogger.Logger) *ForecastCache {
	if l == nil {
		l = applogger.Nop()
	}
	return &ForecastCache{svc: svc, ttl: ttl, l: l}
}

func (c *ForecastCache) Get(ctx context.Context, version string, hours int) (*models.Forecast, bool) {
	var f models.Forecast
	err := c.svc.Get(ctx, key(version, hours), &f)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			c.l.Warn("forecast cache get", applogger.Version(version), applogger.Error(err))
		}
		return nil, false
	}
	return &f, true
}

func (c *ForecastCache) Set(ctx context.Context, f *models.Forecast) {
	if c.ttl <= 0 || f == nil {
		return
	}
	if err := c.svc.Set(ctx, key(f.ModelVersion, f.Horizon), f, c.ttl); err != nil {
		c.l.Warn("forecast cache set", applogger.Version(f.ModelVersion), applogger.Error(err))
	}
}

// Invalidate drops every cached forecast.
func (c *ForecastCache) Invalidate(ctx context.Context) error {
	return c.svc.DeleteByPattern(ctx, pkgcache.PrefixPattern(forecastPrefix))
}

func key(version string, hours int) string {
	return pkgcache.Key(forecastPrefix, version, hours)
}
