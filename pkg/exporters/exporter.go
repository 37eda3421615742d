package exporters

import (
	"context"
	"sync"
)

// generic exporter interface
type Exporter interface {
	// SendFact forwards a file access fact to the exporter
	SendFact(ctx context.Context, fact Fact) error
}

var _ Exporter = (*ExporterMock)(nil)

type ExporterMock struct {
	mu    sync.Mutex
	Facts []Fact
	Err   error
}

func (e *ExporterMock) SendFact(_ context.Context, fact Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.Facts = append(e.Facts, fact)
	return nil
}

func (e *ExporterMock) GetFacts() []Fact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Fact(nil), e.Facts...)
}
