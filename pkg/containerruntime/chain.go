package containerruntime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/kubescape/inuse-agent/pkg/metricsmanager"
	"go.uber.org/multierr"
)

const (
	resultFound    = "found"
	resultNotFound = "not_found"
	resultError    = "error"
)

// Chain asks runtimes in a fixed order. The first runtime that knows the
// container wins.
type Chain struct {
	runtimes []Runtime
	timeout  time.Duration
	metrics  metricsmanager.MetricsManager
}

var _ Runtime = (*Chain)(nil)

func NewChain(timeout time.Duration, metrics metricsmanager.MetricsManager, runtimes ...Runtime) *Chain {
	return &Chain{
		runtimes: runtimes,
		timeout:  timeout,
		metrics:  metrics,
	}
}

func (c *Chain) Name() string {
	return "chain"
}

// Inspect returns ErrNotFound only when every runtime answered that it
// does not know the container. Any failure or timeout is returned as an
// error so that the caller can retry.
func (c *Chain) Inspect(ctx context.Context, containerID string) (*Info, error) {
	var errs error
	for _, r := range c.runtimes {
		info, err := c.inspect(ctx, r, containerID)
		switch {
		case err == nil:
			c.metrics.ReportRuntimeLookup(r.Name(), resultFound)
			return info, nil
		case errors.Is(err, ErrNotFound):
			c.metrics.ReportRuntimeLookup(r.Name(), resultNotFound)
		default:
			c.metrics.ReportRuntimeLookup(r.Name(), resultError)
			logger.L().Debug("Chain - runtime lookup failed", helpers.String("runtime", r.Name()), helpers.String("containerID", containerID), helpers.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
		if ctx.Err() != nil {
			return nil, multierr.Append(errs, ctx.Err())
		}
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrNotFound
}

func (c *Chain) inspect(ctx context.Context, r Runtime, containerID string) (*Info, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return r.Inspect(ctx, containerID)
}

func (c *Chain) Close() error {
	var errs error
	for _, r := range c.runtimes {
		errs = multierr.Append(errs, r.Close())
	}
	return errs
}

func (c *Chain) Len() int {
	return len(c.runtimes)
}
