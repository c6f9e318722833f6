package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	applogger "GridCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho() *echo.Echo {
	e := echo.New()
	l := applogger.Nop()
	e.Use(Recover(l), RequestLogging(l))
	return e
}

func TestRequestLoggingAssignsID(t *testing.T) {
	e := newEcho()
	var seen string
	e.GET("/health", func(c echo.Context) error {
		seen = RequestID(c)
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequestLoggingKeepsCallerID(t *testing.T) {
	e := newEcho()
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRecoverRendersEnvelope(t *testing.T) {
	e := newEcho()
	e.GET("/boom", func(echo.Context) error { panic("model registry corrupted") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":500,"message":"Internal Server Error"}`, rec.Body.String())
}

func TestRequestLoggingWritesHandlerErrors(t *testing.T) {
	e := newEcho()
	e.GET("/missing", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
