package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/order-gateway/internal/types"
)

func newTestContext(method string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, "/test", nil)
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSuccessUsesCreatedForPost(t *testing.T) {
	c, rec := newTestContext(http.MethodPost)
	Success(c, gin.H{"order_id": "ord-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestDenialStatusMapping(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{types.ReasonValidation, http.StatusBadRequest},
		{types.ReasonInvalidSession, http.StatusUnauthorized},
		{types.ReasonPermissionDenied, http.StatusForbidden},
		{types.ReasonOrderValueExceeded, http.StatusForbidden},
		{types.ReasonDuplicateOrder, http.StatusConflict},
		{types.ReasonRateLimited, http.StatusTooManyRequests},
		{types.ReasonBlocked, http.StatusTooManyRequests},
		{types.ReasonBrokerFailed, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			c, rec := newTestContext(http.MethodPost)
			Denial(c, &types.DenialError{Code: tc.code, Message: "denied"})

			assert.Equal(t, tc.status, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestDenialSetsRetryAfter(t *testing.T) {
	c, rec := newTestContext(http.MethodPost)
	Denial(c, &types.DenialError{
		Code:       types.ReasonRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: 42 * time.Second,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Block-Expires"))
}

func TestDenialSetsBlockExpiry(t *testing.T) {
	c, rec := newTestContext(http.MethodPost)
	Denial(c, &types.DenialError{
		Code:       types.ReasonBlocked,
		Message:    "temporarily blocked",
		RetryAfter: 300 * time.Second,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Equal(t, "300", rec.Header().Get("X-RateLimit-Block-Expires"))
}

func TestHandleUnwrapsDenials(t *testing.T) {
	c, rec := newTestContext(http.MethodPost)
	Handle(c, nil, &types.DenialError{Code: types.ReasonDuplicateOrder, Message: "duplicate order"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, types.ReasonDuplicateOrder, resp.Error.Code)
	assert.Equal(t, "duplicate order", resp.Error.Message)
}

func TestSetRateLimitHeaders(t *testing.T) {
	c, rec := newTestContext(http.MethodGet)
	SetRateLimitHeaders(c, &types.RateLimitInfo{Limit: 100, Remaining: 73, ResetSeconds: 31})

	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "73", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "31", rec.Header().Get("X-RateLimit-Reset"))
}
