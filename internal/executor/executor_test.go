package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/radiusdt/vector-insights/internal/cache"
	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		RateLimit:      100,
		RateWindow:     time.Minute,
		MaxLimiterWait: 5 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		MaxRetries:     3,
	}
}

func newTestExecutor(t *testing.T) (*Executor, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	e := New(testConfig(), cache.NewMemoryCache(), zap.NewNop(), nil)
	e.SetSleeper(sleeper.Sleep)
	return e, sleeper
}

func TestRun_UnregisteredTool(t *testing.T) {
	e, sleeper := newTestExecutor(t)

	res := e.Run(context.Background(), "nope", nil, Options{})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrToolNotRegistered)
	assert.Equal(t, 0, res.Attempts)
	assert.Empty(t, sleeper.delays)
}

func TestRun_RetryExhaustion(t *testing.T) {
	e, sleeper := newTestExecutor(t)
	calls := 0
	e.Register("flaky", func(context.Context, Params) (any, error) {
		calls++
		return nil, NewStatusError(503, "unavailable")
	})

	res := e.Run(context.Background(), "flaky", Params{"id": 1}, Options{TenantID: "acme"})

	assert.False(t, res.Success)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 3, res.Retries)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)

	var se *StatusError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, 503, se.Code)
	assert.Contains(t, res.Error, "503")
}

func TestRun_ClientErrorIsNotRetried(t *testing.T) {
	e, sleeper := newTestExecutor(t)
	calls := 0
	e.Register("bad", func(context.Context, Params) (any, error) {
		calls++
		return nil, NewStatusError(400, "bad request")
	})

	res := e.Run(context.Background(), "bad", nil, Options{})

	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, res.Retries)
	assert.Empty(t, sleeper.delays)
}

func TestRun_RecoversAfterThrottle(t *testing.T) {
	e, sleeper := newTestExecutor(t)
	calls := 0
	e.Register("throttled", func(context.Context, Params) (any, error) {
		calls++
		if calls == 1 {
			return nil, NewStatusError(429, "slow down")
		}
		return map[string]int{"rows": 42}, nil
	})

	res := e.Run(context.Background(), "throttled", nil, Options{})

	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)

	var out map[string]int
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, 42, out["rows"])
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("boom", func(context.Context, Params) (any, error) {
		panic("kaboom")
	})

	res := e.Run(context.Background(), "boom", nil, Options{})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	var pe *PanicError
	assert.ErrorAs(t, res.Err, &pe)
}

func TestRun_CachesSuccessOnly(t *testing.T) {
	e, _ := newTestExecutor(t)
	calls := 0
	e.Register("report", func(_ context.Context, p Params) (any, error) {
		calls++
		if calls == 1 {
			return nil, NewStatusError(404, "not yet")
		}
		return map[string]any{"campaign": p["campaign"]}, nil
	})
	opts := Options{TenantID: "acme", Cache: true, CacheTTL: time.Minute}
	params := Params{"campaign": "c-1"}

	first := e.Run(context.Background(), "report", params, opts)
	require.False(t, first.Success)

	second := e.Run(context.Background(), "report", params, opts)
	require.True(t, second.Success)
	assert.False(t, second.Cached)

	third := e.Run(context.Background(), "report", params, opts)
	require.True(t, third.Success)
	assert.True(t, third.Cached)
	assert.JSONEq(t, `{"campaign":"c-1"}`, string(third.Data))

	other := e.Run(context.Background(), "report", Params{"campaign": "c-2"}, opts)
	require.True(t, other.Success)
	assert.False(t, other.Cached)
	assert.Equal(t, 3, calls)
}

func TestRun_SoftRateLimitWaitsInsteadOfFailing(t *testing.T) {
	e, sleeper := newTestExecutor(t)
	e.Register("fetch", func(context.Context, Params) (any, error) { return "ok", nil })
	opts := Options{TenantID: "acme", RateLimit: 1, RateWindow: time.Minute}

	require.True(t, e.Run(context.Background(), "fetch", nil, opts).Success)
	res := e.Run(context.Background(), "fetch", nil, opts)

	require.True(t, res.Success)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.delays)

	other := e.Run(context.Background(), "fetch", nil, Options{TenantID: "globex", RateLimit: 1, RateWindow: time.Minute})
	require.True(t, other.Success)
	assert.Len(t, sleeper.delays, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("flaky", func(context.Context, Params) (any, error) {
		return nil, NewStatusError(502, "")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Run(ctx, "flaky", nil, Options{})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", NewStatusError(429, ""), true},
		{"500", NewStatusError(500, ""), true},
		{"503 wrapped", fmt.Errorf("fetch: %w", NewStatusError(503, "")), true},
		{"400", NewStatusError(400, ""), false},
		{"404", NewStatusError(404, ""), false},
		{"connection reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "graph.facebook.com"}, true},
		{"bare econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"not registered", ErrToolNotRegistered, false},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("invalid params"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestTools(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Register("b", func(context.Context, Params) (any, error) { return nil, nil })
	e.Register("a", func(context.Context, Params) (any, error) { return nil, nil })

	assert.Equal(t, []string{"a", "b"}, e.Tools())
	assert.True(t, e.Registered("a"))
	assert.False(t, e.Registered("c"))
}
