package txn

import (
	"time"

	"go-gin-event-registration/config"

	"github.com/cenkalti/backoff/v5"
)

const DefaultMaxAttempts = 5

// RetryPolicy 限制交易衝突時的重試：最多 MaxAttempts 次，每次之間依 NewBackOff 等待
type RetryPolicy struct {
	MaxAttempts int
	// NewBackOff 每次 Run 建立新的 backoff，避免不同請求共用狀態
	NewBackOff func() backoff.BackOff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			b.Multiplier = 2
			b.RandomizationFactor = 0.5
			return b
		},
	}
}

// PolicyFromConfig builds an exponential policy with jitter from TX_* settings.
func PolicyFromConfig(cfg config.TransactionConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	policy.NewBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if cfg.InitialBackoff > 0 {
			b.InitialInterval = cfg.InitialBackoff
		}
		if cfg.MaxBackoff > 0 {
			b.MaxInterval = cfg.MaxBackoff
		}
		if cfg.Multiplier >= 1 {
			b.Multiplier = cfg.Multiplier
		}
		if cfg.RandomizationFactor >= 0 && cfg.RandomizationFactor <= 1 {
			b.RandomizationFactor = cfg.RandomizationFactor
		}
		return b
	}
	return policy
}

// ImmediateRetryPolicy retries without waiting. Useful for tests.
func ImmediateRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}
