// Package quote fetches real-time convertible bond quotes. Web sources back
// up the trading terminal's own tick feed so a risk check can still price a
// position when one source is degraded.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// Provider returns the current quote for a bond code such as "113050.SH".
type Provider interface {
	Name() string
	Fetch(ctx context.Context, code string) (domain.Quote, error)
}

// ErrNoQuote reports that no provider in a chain produced a usable quote.
var ErrNoQuote = errors.New("no usable quote from any provider")

// Chain queries providers in order and returns the first usable quote.
// Each provider has its own rate limiter so a burst of risk checks cannot
// get the process blocked by a public quote endpoint.
type Chain struct {
	providers []Provider
	limiters  []*rate.Limiter
	log       *slog.Logger
}

// NewChain builds a fallback chain over providers, earlier entries first.
func NewChain(log *slog.Logger, providers ...Provider) *Chain {
	limiters := make([]*rate.Limiter, len(providers))
	for i := range providers {
		limiters[i] = rate.NewLimiter(rate.Limit(20), 40)
	}
	return &Chain{providers: providers, limiters: limiters, log: log}
}

// Fetch returns the first usable quote for code. A provider error or an
// unusable quote (zero last price) falls through to the next provider.
func (c *Chain) Fetch(ctx context.Context, code string) (domain.Quote, error) {
	var lastErr error
	for i, p := range c.providers {
		if err := c.limiters[i].Wait(ctx); err != nil {
			return domain.Quote{}, err
		}
		q, err := p.Fetch(ctx, code)
		if err != nil {
			c.log.Debug("quote provider failed", "provider", p.Name(), "code", code, "error", err)
			lastErr = err
			continue
		}
		if q.Suspended() {
			// A suspension verdict is itself useful; do not mask it by
			// falling through to a source without status information.
			return q, nil
		}
		if !q.Usable() {
			c.log.Debug("quote unusable", "provider", p.Name(), "code", code)
			continue
		}
		return q, nil
	}
	if lastErr != nil {
		return domain.Quote{}, fmt.Errorf("%w for %s: %v", ErrNoQuote, code, lastErr)
	}
	return domain.Quote{}, fmt.Errorf("%w for %s", ErrNoQuote, code)
}

// splitCode converts "113050.SH" into its exchange prefix form "sh113050",
// the shape the web quote endpoints expect.
func splitCode(code string) (string, error) {
	parts := strings.SplitN(code, ".", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("malformed bond code %q", code)
	}
	switch strings.ToUpper(parts[1]) {
	case "SH":
		return "sh" + parts[0], nil
	case "SZ":
		return "sz" + parts[0], nil
	default:
		return "", fmt.Errorf("unknown exchange suffix in %q", code)
	}
}
