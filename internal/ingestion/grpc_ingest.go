package ingestion

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/observability"
)

// Applier applies one directive synchronously. *core.ClearingHouse
// implements it.
type Applier interface {
	Apply(ctx context.Context, d event.Directive) error
	Sequence() int64
}

// Receipt acknowledges an applied directive. AsOfSequence is the core
// sequence observed right after the directive was applied.
type Receipt struct {
	DirectiveID  uuid.UUID           `json:"directive_id"`
	Type         event.DirectiveType `json:"type"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// CommandIngest applies directives submitted over gRPC. Unlike the NATS
// path it waits for the clearing house so callers see rejections.
type CommandIngest struct {
	core    Applier
	metrics *observability.Metrics
}

func NewCommandIngest(core Applier, metrics *observability.Metrics) *CommandIngest {
	return &CommandIngest{core: core, metrics: metrics}
}

// Submit decodes a wire envelope and applies it.
func (c *CommandIngest) Submit(ctx context.Context, data []byte) (Receipt, error) {
	d, err := event.Decode(data)
	if err != nil {
		c.count("invalid")
		return Receipt{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c.SubmitDirective(ctx, d)
}

// SubmitDirective applies an already typed directive.
func (c *CommandIngest) SubmitDirective(ctx context.Context, d event.Directive) (Receipt, error) {
	if err := c.core.Apply(ctx, d); err != nil {
		c.count("rejected")
		return Receipt{}, err
	}
	c.count("applied")
	return Receipt{
		DirectiveID:  d.DirectiveID(),
		Type:         d.DirectiveType(),
		AsOfSequence: c.core.Sequence(),
	}, nil
}

func (c *CommandIngest) count(result string) {
	if c.metrics != nil {
		c.metrics.IngestMessages.WithLabelValues("grpc", result).Inc()
	}
}
