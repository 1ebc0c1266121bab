package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"sheet-sync-service/internal/cache"
	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/errs"
	"sheet-sync-service/internal/logger"
)

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

func RetryConfigFrom(cfg config.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		out.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		out.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		out.Multiplier = cfg.Multiplier
	}
	return out
}

type backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newBackoff(cfg RetryConfig) *backoff {
	return &backoff{
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		multiplier:   cfg.Multiplier,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// nextDelay is initialDelay * multiplier^attempt plus up to one initialDelay
// of jitter, capped at maxDelay. The jitter spreads out many browser
// sessions that fail and retry at the same moment.
func (b *backoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= b.multiplier
	}

	b.mu.Lock()
	jitter := time.Duration(b.rng.Int63n(int64(b.initialDelay) + 1))
	b.mu.Unlock()

	result := time.Duration(delay) + jitter
	if result > b.maxDelay {
		result = b.maxDelay
	}
	return result
}

// ExecResult is what an executed operation yields: live data, or a stale
// cached value when the remote is down.
type ExecResult struct {
	Data      interface{}
	FromCache bool
}

// Executor wraps an operation with classify-aware retries and, on final
// failure, a cache fallback under the extended max-age.
type Executor struct {
	cache *cache.Store
	cfg   RetryConfig
}

func NewExecutor(cacheStore *cache.Store, cfg RetryConfig) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &Executor{cache: cacheStore, cfg: cfg}
}

// Execute runs op up to MaxAttempts times. Non-retryable failures stop the
// loop immediately. cacheKey may be empty (writes), in which case no
// fallback is attempted.
func (x *Executor) Execute(ctx context.Context, op func(context.Context) (interface{}, error), cacheKey string) (ExecResult, error) {
	bo := newBackoff(x.cfg)

	var lastErr *errs.ClassifiedError
	for attempt := 0; attempt < x.cfg.MaxAttempts; attempt++ {
		data, err := op(ctx)
		if err == nil {
			return ExecResult{Data: data}, nil
		}

		lastErr = errs.AsClassified(err)
		if !lastErr.Retryable {
			break
		}
		if attempt == x.cfg.MaxAttempts-1 {
			break
		}

		delay := bo.nextDelay(attempt)
		if lastErr.RetryAfter > 0 {
			delay = lastErr.RetryAfter
		}

		logger.Log.Warn("Operation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("kind", string(lastErr.Kind)),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ExecResult{}, errs.AsClassified(ctx.Err())
		case <-timer.C:
		}
	}

	if cacheKey != "" && x.cache != nil {
		if value, ok := x.cache.GetFallback(cacheKey); ok {
			logger.Log.Warn("Serving cached fallback after remote failure",
				zap.String("cacheKey", cacheKey),
				zap.String("kind", string(lastErr.Kind)),
			)
			return ExecResult{Data: value, FromCache: true}, nil
		}
	}

	return ExecResult{}, lastErr
}
