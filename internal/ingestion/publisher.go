package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/observability"
)

// Publisher is the subset of jetstream.JetStream the history publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// HistoryMessage is the body of a published history record.
type HistoryMessage struct {
	Sequence    int64  `json:"sequence"`
	DirectiveID string `json:"directive_id"`
	event.Record
}

// HistoryPublisher fans persisted outputs out to NATS, one message per
// history record on perp.vamm.history.{kind}.{market}. Outputs arrive only
// after the persistence worker has written them.
type HistoryPublisher struct {
	pub       Publisher
	inputChan <-chan event.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewHistoryPublisher(pub Publisher, inputChan <-chan event.Output, metrics *observability.Metrics) *HistoryPublisher {
	return &HistoryPublisher{
		pub:       pub,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (hp *HistoryPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-hp.inputChan:
			if !ok {
				return nil
			}
			if err := hp.Publish(ctx, out); err != nil {
				// Non-fatal: consumers can page the history tables instead
				hp.logger.Warn().Err(err).Int64("sequence", out.Sequence).Msg("history publish failed")
			}
		}
	}
}

// Publish sends every record of out. The message ID makes redelivery of the
// same record a no-op within the stream's duplicate window.
func (hp *HistoryPublisher) Publish(ctx context.Context, out event.Output) error {
	for _, r := range out.Records {
		data, err := json.Marshal(HistoryMessage{
			Sequence:    out.Sequence,
			DirectiveID: out.DirectiveID.String(),
			Record:      r,
		})
		if err != nil {
			return fmt.Errorf("marshal %s record %d: %w", r.Kind, r.ID, err)
		}
		msgID := fmt.Sprintf("%s-%d", r.Kind, r.ID)
		if _, err := hp.pub.Publish(ctx, HistorySubject(r), data, jetstream.WithMsgID(msgID)); err != nil {
			return fmt.Errorf("publish %s record %d: %w", r.Kind, r.ID, err)
		}
	}
	return nil
}
