package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igfetch/pkg/errors"
	"igfetch/pkg/logger"
)

func testConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNop(),
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return nil
	}, testConfig(3))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeNetwork, "connection reset")
		}
		return nil
	}, testConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	authErr := errs.New(errs.ErrorTypeAuth, "login_required")
	err := Do(func() error {
		calls++
		return authErr
	}, testConfig(5))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.IsType(err, errs.ErrorTypeAuth))
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeServerError, "bad gateway")
	}, testConfig(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retry attempts")
	assert.True(t, errors.As(err, new(*errs.Error)))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(0)
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(func() error {
			calls++
			return errs.New(errs.ErrorTypeNetwork, "timeout")
		}, cfg)
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry cancelled")
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(func() (string, error) {
		calls++
		if calls < 2 {
			return "", errs.New(errs.ErrorTypeRateLimit, "too many requests")
		}
		return "payload", nil
	}, testConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.Equal(t, 2, calls)
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"network error", errs.New(errs.ErrorTypeNetwork, "x"), true},
		{"rate limit error", errs.New(errs.ErrorTypeRateLimit, "x"), true},
		{"server error", errs.New(errs.ErrorTypeServerError, "x"), true},
		{"auth error", errs.New(errs.ErrorTypeAuth, "x"), false},
		{"not found", errs.New(errs.ErrorTypeNotFound, "x"), false},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryIf(tt.err))
		})
	}
}

func TestExponentialBackoffGrowth(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	assert.Equal(t, time.Second, eb.NextDelay(1))
	assert.Equal(t, 2*time.Second, eb.NextDelay(2))
	assert.Equal(t, 4*time.Second, eb.NextDelay(3))
	assert.Equal(t, 10*time.Second, eb.NextDelay(10), "capped at max delay")
	assert.Equal(t, time.Duration(0), eb.NextDelay(0))
}

func TestErrorTypeBackoffForType(t *testing.T) {
	etb := NewErrorTypeBackoff()

	assert.Same(t, etb.NetworkErrorBackoff, etb.ForType(errs.ErrorTypeNetwork))
	assert.Same(t, etb.RateLimitBackoff, etb.ForType(errs.ErrorTypeRateLimit))
	assert.Same(t, etb.ServerErrorBackoff, etb.ForType(errs.ErrorTypeServerError))
	assert.Same(t, etb.DefaultBackoff, etb.ForType(errs.ErrorTypeParsing))
}
