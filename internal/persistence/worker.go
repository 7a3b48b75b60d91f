package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/observability"
)

// OutputWriter durably stores a batch of outputs. *HistoryWriter is the
// production implementation.
type OutputWriter interface {
	WriteOutputs(ctx context.Context, outputs []event.Output) error
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// It runs independently of the clearing house. The clearing house sends on
// the persist channel with a blocking send, so if this worker falls behind
// the core stalls and no output is lost.
type PersistenceWorker struct {
	writer       OutputWriter
	inputChan    <-chan event.Output
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	publishChan  chan<- event.Output
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	writer OutputWriter,
	inputChan <-chan event.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// WithMaxBackoff caps the delay between flush retries.
func (pw *PersistenceWorker) WithMaxBackoff(d time.Duration) *PersistenceWorker {
	pw.maxBackoff = d
	return pw
}

// WithPublish forwards every written output to ch with a non-blocking
// send. A full channel drops the output from publishing only.
func (pw *PersistenceWorker) WithPublish(ch chan<- event.Output) *PersistenceWorker {
	pw.publishChan = ch
	return pw
}

// WithLogger replaces the worker's logger.
func (pw *PersistenceWorker) WithLogger(l zerolog.Logger) *PersistenceWorker {
	pw.logger = l
	return pw
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input channel
// closes; either way the pending batch is flushed first.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]event.Output, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			pw.logger.Error().Err(err).
				Int("outputs", len(batch)).
				Int64("first_sequence", batch[0].Sequence).
				Str("reason", reason).
				Msg("batch flush failed")
		} else {
			pw.publish(batch)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(ctx, "shutdown")
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}
			batch = append(batch, out)
			if len(batch) >= pw.batchSize {
				flush(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancellation it makes one last attempt with a
// fresh context so the batch is not lost on graceful shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, outputs []event.Output) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = min(100*time.Millisecond, pw.maxBackoff)
	bo.MaxInterval = pw.maxBackoff
	bo.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		return pw.flush(ctx, outputs)
	}
	notify := func(err error, wait time.Duration) {
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
		pw.logger.Warn().Err(err).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Int("outputs", len(outputs)).
			Msg("persistence retry")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	if err == nil {
		if attempts > 1 {
			pw.logger.Info().Int("attempts", attempts).Msg("persistence flush succeeded after retries")
		}
		return nil
	}
	if ctx.Err() == nil {
		return err
	}
	if finalErr := pw.flush(context.Background(), outputs); finalErr != nil {
		return fmt.Errorf("final flush on shutdown: %w", finalErr)
	}
	return nil
}

func (pw *PersistenceWorker) flush(ctx context.Context, outputs []event.Output) error {
	start := time.Now()

	if err := pw.writer.WriteOutputs(ctx, outputs); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		var records, journals int
		for _, out := range outputs {
			records += len(out.Records)
			journals += len(out.Journals)
		}
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(outputs)))
		pw.metrics.PersistOutputsWritten.Add(float64(len(outputs)))
		pw.metrics.PersistRecordsWritten.Add(float64(records))
		pw.metrics.PersistJournalsWritten.Add(float64(journals))
		pw.metrics.PersistLastSequence.Set(float64(outputs[len(outputs)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) publish(outputs []event.Output) {
	if pw.publishChan == nil {
		return
	}
	for _, out := range outputs {
		select {
		case pw.publishChan <- out:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}
