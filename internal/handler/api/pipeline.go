package api

import (
	"context"
	"errors"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	"GridCast/internal/usecase"
	xhttp "GridCast/pkg/http"
	xlogger "GridCast/pkg/logger"
	"GridCast/pkg/queue"

	"github.com/labstack/echo/v4"
)

type forecaster interface {
	Forecast(ctx context.Context, hours int) (*models.Forecast, error)
}

type driftChecker interface {
	Check(ctx context.Context) (models.DriftReport, error)
}

type queueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type limiter interface {
	Allow(key string) bool
}

// PipelineHandler serves forecasts and model state, and queues batch jobs.
type PipelineHandler struct {
	logger    *xlogger.Logger
	forecasts forecaster
	drift     driftChecker
	models    domrepo.ModelStore
	trials    domrepo.TrialStore
	snapshots domrepo.SnapshotStore
	jobs      queue.Enqueuer
	stats     queueStats
	limiter   limiter
	now       func() time.Time
}

func NewPipelineHandler(
	logger *xlogger.Logger,
	forecasts forecaster,
	drift driftChecker,
	modelStore domrepo.ModelStore,
	trials domrepo.TrialStore,
	snapshots domrepo.SnapshotStore,
	jobs queue.Enqueuer,
) *PipelineHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PipelineHandler{
		logger:    logger,
		forecasts: forecasts,
		drift:     drift,
		models:    modelStore,
		trials:    trials,
		snapshots: snapshots,
		jobs:      jobs,
		now:       time.Now,
	}
}

// SetLimiter throttles job submissions per client IP.
func (h *PipelineHandler) SetLimiter(l limiter) { h.limiter = l }

// SetQueueStats exposes queue depths on the health endpoint.
func (h *PipelineHandler) SetQueueStats(s queueStats) { h.stats = s }

func (h *PipelineHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/forecast", h.Forecast)
	g.GET("/drift", h.Drift)
	g.GET("/models/active", h.ActiveModel)
	g.GET("/trials", h.Trials)
	g.GET("/snapshots", h.Snapshots)
	g.POST("/jobs/:type", h.SubmitJob)
}

func (h *PipelineHandler) Forecast(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.forecasts.Forecast(c.Request().Context(), req.Hours)
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *PipelineHandler) Drift(c echo.Context) error {
	report, err := h.drift.Check(c.Request().Context())
	if err != nil {
		return h.fail(c, "drift", err)
	}
	return xhttp.SuccessResponse(c, report)
}

type activeModelResponse struct {
	Pointer  models.ActivePointer    `json:"pointer"`
	Ensemble *models.ModelParameters `json:"ensemble"`
}

func (h *PipelineHandler) ActiveModel(c echo.Context) error {
	ctx := c.Request().Context()
	ptr, err := h.models.Active(ctx)
	if err != nil {
		return h.fail(c, "active_model", err)
	}
	ens, err := h.models.Get(ctx, ptr.EnsembleID)
	if err != nil {
		return h.fail(c, "active_model", err)
	}
	return xhttp.SuccessResponse(c, activeModelResponse{Pointer: ptr, Ensemble: ens})
}

func (h *PipelineHandler) Trials(c echo.Context) error {
	req := &models.TrialsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.trials.List(c.Request().Context(), req.ModelVersion, req.Limit)
	if err != nil {
		return h.fail(c, "trials", err)
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *PipelineHandler) Snapshots(c echo.Context) error {
	req := &models.SnapshotsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.snapshots.List(c.Request().Context(), domrepo.SnapshotFilter{
		ModelVersion: req.ModelVersion,
		Split:        models.Split(req.Split),
	})
	if err != nil {
		return h.fail(c, "snapshots", err)
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

type jobAccepted struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (h *PipelineHandler) SubmitJob(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		h.logger.Warn("job submission rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many job submissions").WithRetryAfter(time.Second))
	}
	req := &models.JobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be before to").WithField("from"))
	}
	id, err := h.jobs.Enqueue(c.Request().Context(), req.Type, models.JobPayload{
		ModelVersion: req.ModelVersion,
		ModelType:    req.ModelType,
		Trials:       req.Trials,
		From:         req.From,
		To:           req.To,
		RequestedAt:  h.now().UTC(),
	})
	if err != nil {
		h.logger.Error("enqueue job failed", xlogger.String("type", req.Type), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("job queue unavailable").WithError(err))
	}
	return xhttp.AcceptedResponse(c, jobAccepted{ID: id, Type: req.Type})
}

type healthResponse struct {
	Status string       `json:"status"`
	Queue  *queue.Stats `json:"queue,omitempty"`
}

func (h *PipelineHandler) Health(c echo.Context) error {
	res := healthResponse{Status: "ok"}
	if h.stats != nil {
		s, err := h.stats.Stats(c.Request().Context())
		if err != nil {
			h.logger.Warn("queue stats failed", xlogger.Error(err))
			res.Status = "degraded"
		} else {
			res.Queue = &s
		}
	}
	return xhttp.SuccessResponse(c, res)
}

// fail maps use case errors to API errors.
func (h *PipelineHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
	case models.PredictionUnavailable(err):
		appErr = xhttp.ServiceUnavailableError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrHorizon):
		appErr = xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrNotFound):
		appErr = xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrRunInProgress):
		appErr = xhttp.ConflictError(err.Error()).WithError(err)
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	h.logger.Warn(op+" unavailable", xlogger.Int("status", appErr.Status), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, appErr)
}

var _ xhttp.Handler = (*PipelineHandler)(nil)
