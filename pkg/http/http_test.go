package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type horizonRequest struct {
	Hours int    `query:"hours" default:"24" validate:"gte=1,lte=168"`
	Split string `query:"split" validate:"omitempty,oneof=val test"`
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	c, _ := newContext("/forecast")
	var req horizonRequest
	require.Nil(t, ReadAndValidateRequest(c, &req))
	assert.Equal(t, 24, req.Hours)
}

func TestReadAndValidateRequestErrors(t *testing.T) {
	c, _ := newContext("/forecast?hours=500&split=train")
	var req horizonRequest
	errs := ReadAndValidateRequest(c, &req)
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_LTE", errs[0].Code)
	assert.Equal(t, "hours", errs[0].Field)
	assert.Equal(t, "hours must be at most 168", errs[0].Message)
	assert.Equal(t, "ERR_ONEOF", errs[1].Code)
	assert.Equal(t, []string{"val", "test"}, errs[1].Params["options"])
}

func TestReadAndValidateRequestBindError(t *testing.T) {
	c, _ := newContext("/forecast?hours=abc")
	var req horizonRequest
	errs := ReadAndValidateRequest(c, &req)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}

func TestDataResponseWritesStatus(t *testing.T) {
	c, rec := newContext("/")
	require.NoError(t, AcceptedResponse(c, map[string]string{"job_id": "1"}))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusAccepted, body.Status)
	assert.Equal(t, "Accepted", body.Message)
}

func TestAppErrorResponse(t *testing.T) {
	c, rec := newContext("/")
	err := ServiceUnavailableError("prediction unavailable").WithError(errors.New("no active model"))
	require.NoError(t, AppErrorResponse(c, err))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_UNAVAILABLE")
	assert.NotContains(t, rec.Body.String(), "no active model")

	c, rec = newContext("/")
	require.NoError(t, AppErrorResponse(c, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAppErrorRetryAfterAndCodes(t *testing.T) {
	c, rec := newContext("/")
	err := TooManyRequestsError("slow down").WithRetryAfter(1500 * time.Millisecond).WithField("type")
	require.NoError(t, AppErrorResponse(c, fmt.Errorf("submit: %w", err)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"field":"type"`)

	assert.Equal(t, "ERR_NOT_FOUND", NotFoundError("x").Code)
	assert.Equal(t, "ERR_418", NewAppError(http.StatusTeapot, "tea %d", 1).Code)
	assert.Equal(t, "tea 1", NewAppError(http.StatusTeapot, "tea %d", 1).Message)
}

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/records", r.URL.Path)
		assert.Equal(t, "2024", r.URL.Query().Get("year"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"rows":3}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/v1/"), WithBearerToken("k"))
	var out struct {
		Rows int `json:"rows"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/records", url.Values{"year": {"2024"}}, &out))
	assert.Equal(t, 3, out.Rows)
}

func TestClientStatusError(t *testing.T) {
	code := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", code)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	err := c.GetJSON(context.Background(), "/x", nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "slow down", se.Body)
	assert.True(t, se.Temporary())

	code = http.StatusBadRequest
	err = c.GetJSON(context.Background(), "/x", nil, nil)
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Temporary())
}
