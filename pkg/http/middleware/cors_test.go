package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func serveCORS(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	e := echo.New()
	e.Use(CORS(cfg))
	e.GET("/api/forecast", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.OPTIONS("/api/forecast", func(c echo.Context) error { return c.NoContent(http.StatusMethodNotAllowed) })

	req := httptest.NewRequest(method, "/api/forecast", nil)
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowList(t *testing.T) {
	cfg := CORSConfig{
		AllowOrigins:  []string{"https://dash.example"},
		AllowMethods:  []string{http.MethodGet},
		ExposeHeaders: []string{echo.HeaderCacheControl},
	}

	rec := serveCORS(cfg, http.MethodGet, "https://dash.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, echo.HeaderCacheControl, rec.Header().Get(echo.HeaderAccessControlExposeHeaders))

	rec = serveCORS(cfg, http.MethodGet, "https://other.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestCORSPreflight(t *testing.T) {
	cfg := CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType},
		MaxAge:       time.Hour,
	}
	rec := serveCORS(cfg, http.MethodOptions, "https://dash.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "3600", rec.Header().Get(echo.HeaderAccessControlMaxAge))
}
