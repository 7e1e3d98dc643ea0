package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 16*time.Second, p.Delay(4))
	assert.Equal(t, 30*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func TestDo(t *testing.T) {
	tests := []struct {
		name         string
		failures     []error
		wantState    State
		wantAttempts int
		wantDelays   []time.Duration
		wantErr      error
	}{
		{
			name:         "first attempt succeeds",
			wantState:    Succeeded,
			wantAttempts: 1,
		},
		{
			name:         "recovers after two transient errors",
			failures:     []error{errTransient, errTransient},
			wantState:    Succeeded,
			wantAttempts: 3,
			wantDelays:   []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:         "exhausts after three retries",
			failures:     []error{errTransient, errTransient, errTransient, errTransient, errTransient},
			wantState:    Exhausted,
			wantAttempts: 4,
			wantDelays:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			wantErr:      errTransient,
		},
		{
			name:         "aborts on non-retryable error",
			failures:     []error{errFatal},
			wantState:    Aborted,
			wantAttempts: 1,
			wantErr:      errFatal,
		},
		{
			name:         "aborts when a retry hits a fatal error",
			failures:     []error{errTransient, errFatal},
			wantState:    Aborted,
			wantAttempts: 2,
			wantDelays:   []time.Duration{time.Second},
			wantErr:      errFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			var retried []int
			r := Retrier{
				Policy:    DefaultPolicy(),
				Retryable: isTransient,
				Sleep:     sleeper.Sleep,
				OnRetry:   func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
			}

			v, out := Do(context.Background(), r, func(_ context.Context, attempt int) (string, error) {
				if attempt <= len(tt.failures) {
					return "", tt.failures[attempt-1]
				}
				return "ok", nil
			})

			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantAttempts, out.Attempts)
			assert.Equal(t, tt.wantAttempts-1, out.Retries())
			assert.Equal(t, tt.wantDelays, sleeper.delays)
			assert.Len(t, retried, len(tt.wantDelays))
			if tt.wantErr != nil {
				assert.ErrorIs(t, out.Err, tt.wantErr)
				assert.Empty(t, v)
			} else {
				require.NoError(t, out.Err)
				assert.Equal(t, "ok", v)
			}
		})
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Retrier{Policy: DefaultPolicy(), Retryable: isTransient}
	_, out := Do(ctx, r, func(context.Context, int) (int, error) {
		return 0, errTransient
	})

	assert.Equal(t, Aborted, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "backoff", Backoff.String())
}
