package response_test

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"github.com/sahilchouksey/search-gateway/utils/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, err error) (int, string, response.Response) {
	t.Helper()
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return response.FromError(c, err) })

	resp, rerr := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, rerr)
	defer resp.Body.Close()

	var body response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, resp.Header.Get("Retry-After"), body
}

func TestFromErrorRateLimited(t *testing.T) {
	status, retryAfter, body := render(t, &services.Error{
		Kind:       services.KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: 1500 * time.Millisecond,
		Meta:       map[string]interface{}{"limit": 100, "window": "1m"},
	})

	assert.Equal(t, 429, status)
	assert.Equal(t, "2", retryAfter)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.Equal(t, float64(100), body.Error.Meta["limit"])
	assert.Equal(t, "1m", body.Error.Meta["window"])
}

func TestFromErrorHidesDownstreamDetail(t *testing.T) {
	status, _, body := render(t, &services.Error{Kind: services.KindStore, Message: "failed to record usage", Err: errors.New("pq: connection refused")})

	assert.Equal(t, 500, status)
	assert.Equal(t, "STORE_ERROR", body.Error.Code)
	assert.Equal(t, "Internal server error", body.Error.Message)
	assert.Nil(t, body.Error.Meta)
}

func TestFromErrorStatusMapping(t *testing.T) {
	cases := map[services.ErrorKind]int{
		services.KindUnauthorized:     401,
		services.KindPermissionDenied: 403,
		services.KindQuotaExceeded:    403,
		services.KindValidation:       400,
		services.KindNotFound:         404,
		services.KindEngine:           500,
	}
	for kind, want := range cases {
		status, _, body := render(t, &services.Error{Kind: kind, Message: "x"})
		assert.Equal(t, want, status, kind)
		assert.Equal(t, string(kind), body.Error.Code)
	}
}

func TestFromErrorPlainErrors(t *testing.T) {
	status, _, body := render(t, errors.New("boom"))
	assert.Equal(t, 500, status)
	assert.Equal(t, "Internal server error", body.Error.Message)

	status, _, body = render(t, fiber.NewError(fiber.StatusRequestEntityTooLarge, "Request Entity Too Large"))
	assert.Equal(t, 413, status)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}
