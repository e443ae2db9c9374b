// Package txn runs read-check-write units of work against a store.Store
// with optimistic concurrency. Every read pins the observed version; the
// buffered writes commit only if none of those versions moved, otherwise
// the whole unit is re-run with fresh reads.
package txn

import (
	"context"
	"errors"
	"time"

	"go-gin-event-registration/internal/store"
	apperrors "go-gin-event-registration/pkg/app_errors"
	"go-gin-event-registration/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Func is one attempt of a unit of work. Returning an error aborts the
// attempt without committing anything.
type Func func(ctx context.Context, tx *Tx) error

type Runner interface {
	Run(ctx context.Context, fn Func) error
}

type Coordinator struct {
	store  store.Store
	policy RetryPolicy
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Coordinator)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func NewCoordinator(s store.Store, policy RetryPolicy, opts ...Option) *Coordinator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.NewBackOff == nil {
		policy.NewBackOff = DefaultRetryPolicy().NewBackOff
	}
	c := &Coordinator{
		store:  s,
		policy: policy,
		now:    time.Now,
		log:    logger.WithComponent("txn"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes fn until its writes commit, fn aborts, or the retry budget
// (attempts or ctx deadline) runs out. Results returned by fn through
// closed-over variables are only meaningful when Run returns nil.
func (c *Coordinator) Run(ctx context.Context, fn Func) error {
	b := c.policy.NewBackOff()
	b.Reset()

	var lastConflict error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return c.exhausted(attempt-1, err)
		}

		tx := newTx(c.store, attempt, c.now().UTC())
		if err := fn(ctx, tx); err != nil {
			return c.abort(ctx, attempt, err)
		}

		batch := tx.batch()
		if batch.Empty() {
			return nil
		}

		err := c.store.Commit(ctx, batch)
		if err == nil {
			return nil
		}

		if !errors.Is(err, store.ErrVersionConflict) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return c.exhausted(attempt, ctxErr)
			}
			c.log.Error("commit failed", zap.Int("attempt", attempt), zap.Error(err))
			return apperrors.Storage(err)
		}

		lastConflict = err
		c.log.Debug("commit conflict, retrying", zap.Int("attempt", attempt), zap.Int("mutations", len(batch.Mutations)))

		if attempt == c.policy.MaxAttempts {
			break
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return c.exhausted(attempt, err)
		}
	}

	return c.exhausted(c.policy.MaxAttempts, lastConflict)
}

func (c *Coordinator) abort(ctx context.Context, attempt int, err error) error {
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Kind() == apperrors.KindStorage {
			c.log.Error("transaction aborted", zap.Int("attempt", attempt), zap.String("code", string(appErr.Code)), zap.Error(err))
		}
		return appErr
	}
	// 讀取時 ctx 到期也視為重試預算用盡
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return c.exhausted(attempt, ctxErr)
	}
	c.log.Error("transaction aborted", zap.Int("attempt", attempt), zap.Error(err))
	return apperrors.Storage(err)
}

func (c *Coordinator) exhausted(attempts int, cause error) error {
	c.log.Warn("transaction retries exhausted", zap.Int("attempts", attempts), zap.Error(cause))
	return apperrors.ConflictExhausted(cause)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
