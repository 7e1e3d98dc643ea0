// Package executor runs named remote operations ("tools") with a soft
// per-tenant rate limit, exponential backoff retry and optional result
// caching. Run never panics and always returns a Result.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/vector-insights/internal/cache"
	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/retry"
	"go.uber.org/zap"
)

// Params are the arguments passed to a tool.
type Params map[string]any

// Handler executes one attempt of a tool.
type Handler func(ctx context.Context, params Params) (any, error)

// Options control a single Run.
type Options struct {
	// TenantID scopes the rate-limit window.
	TenantID string
	// Cache enables result caching for CacheTTL.
	Cache    bool
	CacheTTL time.Duration
	// RateLimit and RateWindow override the configured window.
	RateLimit  int
	RateWindow time.Duration
}

// Result is the outcome of a Run.
type Result struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Err      error           `json:"-"`
	Duration time.Duration   `json:"duration"`
	Attempts int             `json:"attempts"`
	Retries  int             `json:"retries"`
	Cached   bool            `json:"cached"`
}

// Decode unmarshals the result data into v.
func (r Result) Decode(v any) error {
	if !r.Success {
		return fmt.Errorf("cannot decode failed result: %w", r.Err)
	}
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

const defaultCacheTTL = 5 * time.Minute

// Executor is the tool registry and runner.
type Executor struct {
	mu    sync.RWMutex
	tools map[string]Handler

	cfg     config.ExecutorConfig
	cache   cache.Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   retry.Sleeper
	now     func() time.Time
}

// New creates an executor. The cache backs both rate limiting and result
// caching.
func New(cfg config.ExecutorConfig, c cache.Cache, logger *zap.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		tools:   make(map[string]Handler),
		cfg:     cfg,
		cache:   c,
		logger:  logger.Named("executor"),
		metrics: m,
		sleep:   retry.Sleep,
		now:     time.Now,
	}
}

// SetSleeper replaces the sleeper used for backoff and rate-limit waits.
func (e *Executor) SetSleeper(s retry.Sleeper) {
	e.sleep = s
}

// Register adds or replaces a tool.
func (e *Executor) Register(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[name] = h
}

// Registered reports whether a tool exists.
func (e *Executor) Registered(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Tools lists registered tool names.
func (e *Executor) Tools() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for n := range e.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes a registered tool.
func (e *Executor) Run(ctx context.Context, tool string, params Params, opts Options) Result {
	start := e.now()
	log := e.logger.With(zap.String("tool", tool), zap.String("tenant_id", opts.TenantID))

	e.mu.RLock()
	handler, ok := e.tools[tool]
	e.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotRegistered, tool)
		log.Error("unknown tool")
		return e.failed(tool, err, 0, start)
	}

	var cacheKey string
	if opts.Cache && e.cache != nil {
		key, err := toolCacheKey(tool, params)
		if err != nil {
			log.Warn("params not cacheable", zap.Error(err))
		} else {
			cacheKey = key
			var data json.RawMessage
			hit, err := e.cache.Get(ctx, cacheKey, &data)
			if err != nil {
				log.Warn("tool cache read failed", zap.Error(err))
			}
			if hit {
				if e.metrics != nil {
					e.metrics.RecordToolCacheHit(tool)
				}
				return Result{Success: true, Data: data, Cached: true, Duration: e.now().Sub(start)}
			}
		}
	}

	r := retry.Retrier{
		Policy: retry.Policy{
			Initial:    e.cfg.InitialBackoff,
			Multiplier: e.cfg.Multiplier,
			Max:        e.cfg.MaxBackoff,
			MaxRetries: e.cfg.MaxRetries,
		},
		Retryable: IsRetryable,
		Sleep:     e.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("tool attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		},
	}

	data, out := retry.Do(ctx, r, func(ctx context.Context, attempt int) (json.RawMessage, error) {
		if err := e.waitForRateLimit(ctx, tool, opts, log); err != nil {
			return nil, err
		}
		return invoke(ctx, handler, params)
	})

	if out.Err != nil {
		log.Error("tool failed",
			zap.String("state", out.State.String()),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
		return e.failed(tool, out.Err, out.Attempts, start)
	}

	if cacheKey != "" {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		if err := e.cache.Set(ctx, cacheKey, data, ttl); err != nil {
			log.Warn("tool cache write failed", zap.Error(err))
		}
	}

	res := Result{
		Success:  true,
		Data:     data,
		Duration: e.now().Sub(start),
		Attempts: out.Attempts,
		Retries:  out.Retries(),
	}
	if e.metrics != nil {
		e.metrics.RecordToolExecution(tool, true, res.Retries, res.Duration)
	}
	return res
}

// waitForRateLimit sleeps, capped, when the tenant's window is exhausted.
// The call proceeds after the wait either way.
func (e *Executor) waitForRateLimit(ctx context.Context, tool string, opts Options, log *zap.Logger) error {
	if e.cache == nil {
		return nil
	}
	limit, window := opts.RateLimit, opts.RateWindow
	if limit <= 0 {
		limit = e.cfg.RateLimit
	}
	if window <= 0 {
		window = e.cfg.RateWindow
	}

	tenant := opts.TenantID
	if tenant == "" {
		tenant = "global"
	}

	res := e.cache.CheckRateLimit(ctx, tool+":"+tenant, limit, window)
	if res.Allowed {
		return nil
	}

	wait := res.ResetAt.Sub(e.now())
	if wait > e.cfg.MaxLimiterWait {
		wait = e.cfg.MaxLimiterWait
	}
	if wait <= 0 {
		return nil
	}

	log.Warn("rate limit window exhausted, waiting", zap.Duration("wait", wait))
	if e.metrics != nil {
		e.metrics.RecordRateLimitWait(tool)
	}
	return e.sleep(ctx, wait)
}

func (e *Executor) failed(tool string, err error, attempts int, start time.Time) Result {
	res := Result{
		Success:  false,
		Error:    err.Error(),
		Err:      err,
		Duration: e.now().Sub(start),
		Attempts: attempts,
	}
	if attempts > 0 {
		res.Retries = attempts - 1
	}
	if e.metrics != nil && !errors.Is(err, ErrToolNotRegistered) {
		e.metrics.RecordToolExecution(tool, false, res.Retries, res.Duration)
	}
	return res
}

// invoke runs the handler, converting panics to errors and the value to JSON.
func invoke(ctx context.Context, h Handler, params Params) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, &PanicError{Value: r}
		}
	}()

	v, err := h(ctx, params)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return b, nil
}

func toolCacheKey(tool string, params Params) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tool:%s:%x", tool, sha256.Sum256(b)), nil
}
