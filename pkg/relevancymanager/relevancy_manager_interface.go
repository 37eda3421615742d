package relevancymanager

import (
	"context"

	"github.com/kubescape/inuse-agent/pkg/transport"
)

type RelevancyManagerClient interface {
	// StartRelevancyManager consumes both event channels until ctx is
	// cancelled. It takes ownership of the readers.
	StartRelevancyManager(ctx context.Context, opens, exits transport.Reader)
	// Wait blocks until every fact produced before cancellation was handed
	// to the exporter.
	Wait()
	Ready() bool
}
