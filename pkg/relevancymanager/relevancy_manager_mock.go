package relevancymanager

import (
	"context"

	"github.com/kubescape/inuse-agent/pkg/transport"
)

type RelevancyManagerMock struct {
}

var _ RelevancyManagerClient = (*RelevancyManagerMock)(nil)

func CreateRelevancyManagerMock() *RelevancyManagerMock {
	return &RelevancyManagerMock{}
}

func (r RelevancyManagerMock) StartRelevancyManager(_ context.Context, _, _ transport.Reader) {
	// noop
}

func (r RelevancyManagerMock) Wait() {
	// noop
}

func (r RelevancyManagerMock) Ready() bool {
	return true
}
