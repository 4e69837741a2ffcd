package ai

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type throttled struct {
	Provider
	limiter *rate.Limiter
}

// Throttle limits p to perMinute calls process-wide. A wait that cannot
// finish before the context deadline is reported as ErrTimeout.
func Throttle(p Provider, perMinute int) Provider {
	if perMinute <= 0 {
		return p
	}
	return &throttled{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (t *throttled) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: %w: %w", t.Name(), ErrTimeout, err)
	}
	return t.Provider.Generate(ctx, prompt, opts)
}
