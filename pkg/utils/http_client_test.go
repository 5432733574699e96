package utils

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRestyClient_FixedBackoff(t *testing.T) {
	wait := 40 * time.Millisecond
	client := NewRestyClient(ClientOptions{RetryCount: 2, RetryWait: wait})
	require.NotNil(t, client.RetryAfter)

	// 每次退避都是同样的时长
	for i := 0; i < 3; i++ {
		d, err := client.RetryAfter(client, nil)
		require.NoError(t, err)
		assert.Equal(t, wait, d)
	}

	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder("GET", "https://api.test.local/busy",
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{}`))

	start := time.Now()
	resp, err := client.R().Get("https://api.test.local/busy")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode())
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
	assert.GreaterOrEqual(t, elapsed, 2*wait)
}

func TestNewRestyClient_NoRetry(t *testing.T) {
	client := NewRestyClient(ClientOptions{})
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder("GET", "https://api.test.local/down",
		httpmock.NewStringResponder(http.StatusBadGateway, `{}`))

	resp, err := client.R().Get("https://api.test.local/down")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode())
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRetryableResponse(t *testing.T) {
	assert.True(t, RetryableResponse(nil, errors.New("connection reset")))
	assert.False(t, RetryableResponse(nil, context.Canceled))
	assert.False(t, RetryableResponse(nil, context.DeadlineExceeded))
	assert.False(t, RetryableResponse(nil, nil))
}
