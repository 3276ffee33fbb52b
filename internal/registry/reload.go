package registry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerolation/ethereum-interop-viz/internal/logger"
)

// reloadEvery runs load on every tick of clk until ctx is done. A
// non-positive refresh disables reloading.
func reloadEvery(ctx context.Context, clk clock.Clock, refresh time.Duration, what string, load func(context.Context) error) {
	if refresh <= 0 {
		return
	}

	ticker := clk.Ticker(refresh)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := load(ctx); err != nil {
					logger.Warn("REGISTRY", "%s reload failed: %v", what, err)
				}
			}
		}
	}()
}
