// Package sink fans recorded violations out to downstream consumers.
package sink

import (
	"context"

	"github.com/shortontech/consentry/internal/engine"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(r engine.Record) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
