// Package guard enforces workflow safety limits: the loop-back bound,
// capability call rate and protected file paths.
package guard

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// LoopGuard bounds how many times a paused workflow may loop back to Verify.
type LoopGuard struct {
	Max int
}

// CheckLoopBack returns ErrMaxRetriesExceeded if taking one more loop-back
// from loopBacks would exceed the bound.
func (g LoopGuard) CheckLoopBack(loopBacks int) error {
	if loopBacks+1 > g.Max {
		return domain.ErrMaxRetriesExceeded.Withf("loop-back %d exceeds the limit of %d", loopBacks+1, g.Max)
	}
	return nil
}

// Limited wraps a ModelExecutor with a token-bucket rate limit shared by all
// callers, including concurrent SME reviews.
type Limited struct {
	next    capability.ModelExecutor
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls per second with the given burst. A
// non-positive rate disables limiting.
func NewLimited(next capability.ModelExecutor, perSecond float64, burst int) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Invoke waits for a token and then calls the wrapped executor. A wait that
// would outlast ctx fails with ErrRateLimitExceeded.
func (l *Limited) Invoke(ctx context.Context, req capability.Request) (capability.Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return capability.Response{}, domain.ErrGateAbort.Wrap(err, "rate limit wait cancelled")
		}
		return capability.Response{}, domain.ErrRateLimitExceeded.Wrap(err, "wait for "+string(req.Role))
	}
	return l.next.Invoke(ctx, req)
}
