// Package source pulls raw hourly records and auxiliary daily series from
// the upstream market data service.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"GridCast/internal/domain/models"
	pkghttp "GridCast/pkg/http"
	applogger "GridCast/pkg/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config describes the upstream endpoint.
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	AuxSeries        []string
	RPS              float64
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client fetches records over HTTP. Calls go through a rate limiter and a
// circuit breaker that opens after FailureThreshold consecutive failures.
type Client struct {
	cfg     Config
	http    *pkghttp.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	l       *applogger.Logger
}

// New creates a source client.
func New(cfg Config, l *applogger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}

	st := gobreaker.Settings{Name: "source", Timeout: cfg.OpenTimeout}
	threshold := cfg.FailureThreshold
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= threshold }
	st.IsSuccessful = func(err error) bool {
		// Client errors say nothing about upstream health.
		var se *pkghttp.StatusError
		return err == nil || (errors.As(err, &se) && !se.Temporary())
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		l.Warn("source circuit state changed",
			applogger.String("from", from.String()),
			applogger.String("to", to.String()),
		)
	}

	return &Client{
		cfg: cfg,
		http: pkghttp.NewClient(
			pkghttp.WithBaseURL(cfg.BaseURL),
			pkghttp.WithBearerToken(cfg.APIKey),
			pkghttp.WithTimeout(cfg.Timeout),
		),
		cb:      gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		l:       l,
	}
}

type recordsResponse struct {
	Records []models.TrainingRecord `json:"records"`
}

type seriesResponse struct {
	Values map[string]float64 `json:"values"`
}

// FetchRecords returns the hourly records in [from, to).
func (c *Client) FetchRecords(ctx context.Context, from, to time.Time) ([]models.TrainingRecord, error) {
	var resp recordsResponse
	if err := c.get(ctx, "/records", window(from, to), &resp); err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	return resp.Records, nil
}

// FetchSeries returns one auxiliary daily series for [from, to).
func (c *Client) FetchSeries(ctx context.Context, name string, from, to time.Time) (models.DailySeries, error) {
	var resp seriesResponse
	if err := c.get(ctx, "/series/"+name, window(from, to), &resp); err != nil {
		return models.DailySeries{}, fmt.Errorf("fetch series %s: %w", name, err)
	}
	return models.DailySeries{Name: name, Values: resp.Values}, nil
}

// Fetch loads the records and every configured aux series concurrently.
func (c *Client) Fetch(ctx context.Context, from, to time.Time) (models.IngestBatch, error) {
	var batch models.IngestBatch
	series := make([]models.DailySeries, len(c.cfg.AuxSeries))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := c.FetchRecords(gctx, from, to)
		batch.Records = recs
		return err
	})
	for i, name := range c.cfg.AuxSeries {
		g.Go(func() error {
			s, err := c.FetchSeries(gctx, name, from.AddDate(0, 0, -8), to)
			series[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return models.IngestBatch{}, err
	}
	batch.Aux = series
	c.l.Info("source fetch complete",
		applogger.Int("records", len(batch.Records)),
		applogger.Int("aux_series", len(batch.Aux)),
	)
	return batch, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("source base url is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.http.GetJSON(ctx, path, query, dest)
	})
	return err
}

func window(from, to time.Time) url.Values {
	return url.Values{
		"from": {from.UTC().Format(time.RFC3339)},
		"to":   {to.UTC().Format(time.RFC3339)},
	}
}

// LoadFile reads an ingest batch from a JSON file.
func LoadFile(path string) (models.IngestBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.IngestBatch{}, fmt.Errorf("open batch: %w", err)
	}
	defer f.Close()

	var batch models.IngestBatch
	if err := json.NewDecoder(f).Decode(&batch); err != nil {
		return models.IngestBatch{}, fmt.Errorf("decode batch %s: %w", path, err)
	}
	return batch, nil
}
