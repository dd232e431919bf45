package analysis

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// Limited throttles an analyzer with a token bucket and bounds each call.
type Limited struct {
	next    Analyzer
	limiter *rate.Limiter
	timeout time.Duration
}

var _ Analyzer = (*Limited)(nil)

// NewLimited wraps next. rps <= 0 disables throttling; timeout <= 0 disables
// the per-call deadline.
func NewLimited(next Analyzer, rps float64, timeout time.Duration) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

// Analyze waits for a token, then calls the wrapped analyzer.
func (l *Limited) Analyze(ctx context.Context, doc Document) (models.ExtractedData, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analyze %s: wait for rate limit: %w", doc.Filename, err)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return l.next.Analyze(ctx, doc)
}
