// Package core runs the clearing house: every inbound directive is applied
// as one staged transition over the state store, committed atomically, then
// settled against the vaults and emitted as a hash-chained output.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpVAMM/internal/amm"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/state"
	"PerpVAMM/internal/store"
	"PerpVAMM/internal/vault"
)

// DefaultIdempotencyCapacity is the LRU size when Options leaves it unset.
const DefaultIdempotencyCapacity = 1_000_000

// Options configures a ClearingHouse. Every field is optional.
type Options struct {
	// PersistChan receives every output with a blocking send.
	PersistChan chan<- event.Output
	// ProjectionChan receives outputs with a non-blocking send; a full
	// channel drops the output.
	ProjectionChan chan<- event.Output

	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	Logger              *zerolog.Logger
}

// ClearingHouse is the single writer of the state store.
type ClearingHouse struct {
	mu sync.Mutex

	store       store.Store
	vaults      vault.Vault
	feed        oracle.Feed
	validator   *ledger.InvariantValidator
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	sequence    int64

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- event.Output
	projectionChan chan<- event.Output
}

func NewClearingHouse(st store.Store, vaults vault.Vault, feed oracle.Feed, opts Options) (*ClearingHouse, error) {
	logger := observability.NewLogger("core")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	capacity := opts.IdempotencyCapacity
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	idem, err := NewIdempotencyChecker(capacity, opts.DBChecker, opts.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("idempotency cache: %w", err)
	}
	return &ClearingHouse{
		store:          st,
		vaults:         vaults,
		feed:           feed,
		validator:      ledger.NewInvariantValidator(vaults),
		hasher:         NewStateHasher(),
		idempotency:    idem,
		metrics:        opts.Metrics,
		logger:         logger,
		persistChan:    opts.PersistChan,
		projectionChan: opts.ProjectionChan,
	}, nil
}

// Defaults are the records Bootstrap writes.
type Defaults struct {
	Protocol     *state.ProtocolState
	FeeStructure *state.FeeStructure
	Rails        *state.OracleGuardRails
	OrderState   *state.OrderState
}

// Bootstrap writes the protocol records of a fresh exchange. It is a no-op
// when the protocol state already exists.
func (ch *ClearingHouse) Bootstrap(ctx context.Context, d Defaults) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	existing, _, err := readRecord[state.ProtocolState](ctx, ch.store, state.KeyProtocolState)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := state.ValidateMarginRatios(d.Protocol.MarginRatioInitial, d.Protocol.MarginRatioPartial, d.Protocol.MarginRatioMaintenance); err != nil {
		return err
	}
	if err := state.ValidateLiquidationParams(d.Protocol); err != nil {
		return err
	}
	if err := state.ValidateFeeStructure(d.FeeStructure); err != nil {
		return err
	}
	if err := state.ValidateOrderState(d.OrderState); err != nil {
		return err
	}
	if err := state.ValidateGuardRails(d.Rails); err != nil {
		return err
	}

	records := []struct {
		key string
		v   any
	}{
		{state.KeyProtocolState, d.Protocol},
		{state.KeyFeeStructure, d.FeeStructure},
		{state.KeyOracleGuardRails, d.Rails},
		{state.KeyOrderState, d.OrderState},
	}
	writes := make([]store.Write, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r.v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.key, err)
		}
		writes = append(writes, store.Write{Key: r.key, Value: data})
	}
	if err := ch.store.Commit(ctx, writes); err != nil {
		return fmt.Errorf("bootstrap commit: %w", err)
	}
	ch.logger.Info().Str("admin", d.Protocol.Admin.String()).Msg("protocol bootstrapped")
	return nil
}

// Restore resumes the sequence and hash chain after the last persisted
// output.
func (ch *ClearingHouse) Restore(sequence int64, stateHash [32]byte) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sequence = sequence
	ch.hasher.Reset(stateHash)
}

// WarmIdempotency preloads recently applied directive IDs.
func (ch *ClearingHouse) WarmIdempotency(ids []uuid.UUID) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.idempotency.Warm(ids)
}

// Sequence returns the sequence of the last applied directive.
func (ch *ClearingHouse) Sequence() int64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sequence
}

// StateHash returns the current chain tip.
func (ch *ClearingHouse) StateHash() [32]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.hasher.GetPrevHash()
}

// Run applies directives from in until it closes or ctx is done. Rejected
// directives are logged and skipped.
func (ch *ClearingHouse) Run(ctx context.Context, in <-chan event.Directive) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-in:
			if !ok {
				return nil
			}
			_ = ch.Apply(ctx, d)
		}
	}
}

// Apply is the main processing pipeline. A directive whose ID was already
// applied is skipped without error. Any failure before the commit leaves
// the store, the vaults and the sequence untouched.
func (ch *ClearingHouse) Apply(ctx context.Context, d event.Directive) error {
	start := time.Now()
	typ := d.DirectiveType()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	// Step 1: idempotency
	if ch.idempotency.IsDuplicate(ctx, d.DirectiveID()) {
		ch.reject(typ, "duplicate")
		return nil
	}

	// Step 2: stage the transition
	seq := ch.sequence + 1
	batch := ledger.NewBatch(ch.store, d.DirectiveID(), seq, d.Timestamp())
	t := newTxn(ctx, batch, ch.feed)
	if err := ch.authorize(t, d); err != nil {
		return ch.rejected(d, err)
	}
	if err := ch.dispatch(t, d); err != nil {
		return ch.rejected(d, err)
	}
	if err := t.flush(); err != nil {
		return ch.rejected(d, err)
	}

	// Step 3: validate
	if err := ch.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch for %s %s: %v", typ, d.DirectiveID(), err))
	}
	if err := ch.validator.ValidateVaultsCovered(ctx, batch); err != nil {
		return ch.rejected(d, fmt.Errorf("%w: %v", vault.ErrInsufficientFunds, err))
	}

	// Step 4: commit
	writes := batch.Writes()
	commitStart := time.Now()
	if err := ch.store.Commit(ctx, writes); err != nil {
		return ch.rejected(d, fmt.Errorf("commit: %w", err))
	}
	if ch.metrics != nil {
		ch.metrics.CoreCommitDuration.Observe(time.Since(commitStart).Seconds())
	}
	ch.sequence = seq

	// Step 5: settle against the vaults. The store already reflects these
	// movements, so a failure here leaves custody and state apart.
	for _, j := range batch.Journals {
		if err := ch.vaults.Transfer(ctx, j); err != nil {
			panic(fmt.Sprintf("FATAL: vault transfer %s after commit of sequence %d: %v", j.JournalID, seq, err))
		}
	}

	// Step 6: hash and envelope
	payload, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied directive %s: %v", d.DirectiveID(), err))
	}
	prevHash := ch.hasher.GetPrevHash()
	stateHash := ch.hasher.ComputeHash(seq, computeStateDigest(writes, batch.Journals))
	out := event.Output{
		Sequence:    seq,
		DirectiveID: d.DirectiveID(),
		Type:        typ,
		Signer:      d.Signer(),
		MarketIndex: d.MarketIndex(),
		Timestamp:   d.Timestamp(),
		Payload:     payload,
		Journals:    batch.Journals,
		Records:     t.records,
		StateHash:   stateHash,
		PrevHash:    prevHash,
	}

	// Step 7: emit. Persistence blocks; projections drop when behind and
	// rebuild from the history tables.
	if ch.persistChan != nil {
		select {
		case ch.persistChan <- out:
		default:
			if ch.metrics != nil {
				ch.metrics.PersistBackpressure.Inc()
			}
			ch.persistChan <- out
		}
	}
	if ch.projectionChan != nil {
		select {
		case ch.projectionChan <- out:
		default:
			if ch.metrics != nil {
				ch.metrics.ProjectionDrops.Inc()
			}
		}
	}

	ch.idempotency.MarkProcessed(d.DirectiveID())
	ch.observe(t, out, start)
	return nil
}

// authorize enforces the admin signature on admin directives and the
// exchange pause on everything else.
func (ch *ClearingHouse) authorize(t *txn, d event.Directive) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	if d.DirectiveType().IsAdmin() {
		if d.Signer() != ps.Admin {
			return fmt.Errorf("%s signed by %s: %w", d.DirectiveType(), d.Signer(), state.ErrUnauthorized)
		}
		return nil
	}
	if ps.ExchangePaused {
		return state.ErrExchangePaused
	}
	return nil
}

func (ch *ClearingHouse) rejected(d event.Directive, err error) error {
	ch.reject(d.DirectiveType(), rejectReason(err))
	ch.logger.Debug().
		Err(err).
		Str("type", d.DirectiveType().String()).
		Str("directive_id", d.DirectiveID().String()).
		Str("signer", d.Signer().String()).
		Msg("directive rejected")
	return err
}

func (ch *ClearingHouse) reject(typ event.DirectiveType, reason string) {
	if ch.metrics != nil {
		ch.metrics.DirectivesRejected.WithLabelValues(typ.String(), reason).Inc()
	}
}

// rejectReason buckets an error into a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, state.ErrExchangePaused):
		return "paused"
	case errors.Is(err, fpmath.ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, vault.ErrInsufficientFunds):
		return "vault"
	case errors.Is(err, ErrNotBootstrapped):
		return "not_bootstrapped"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "invalid"
	}
}

func (ch *ClearingHouse) observe(t *txn, out event.Output, start time.Time) {
	typ := out.Type.String()
	if ch.metrics != nil {
		ch.metrics.DirectivesApplied.WithLabelValues(typ).Inc()
		ch.metrics.DirectiveDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
		ch.metrics.CoreSequence.Set(float64(out.Sequence))
		for _, j := range out.Journals {
			ch.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		for _, r := range out.Records {
			ch.metrics.CoreRecords.WithLabelValues(r.Kind.String()).Inc()
		}
		for index, m := range t.markets {
			label := strconv.FormatUint(index, 10)
			if mark, err := amm.MarkPrice(&m.AMM); err == nil {
				ch.metrics.MarkPrice.WithLabelValues(label).Set(mark.Float64(fpmath.MarkPricePrecision))
			}
			ch.metrics.FundingRate.WithLabelValues(label).Set(m.AMM.LastFundingRate.Float64(fpmath.MarkPricePrecision))
			ch.metrics.OpenInterest.WithLabelValues(label).Set(float64(m.OpenInterest))
		}
		if l := t.liquidation; l != nil {
			kind := "full"
			if l.Partial {
				kind = "partial"
			}
			ch.metrics.Liquidations.WithLabelValues(kind).Inc()
			ch.metrics.LiquidationFee.Add(l.LiquidationFee.Float64(fpmath.NewUint(1)))
		}
	}

	if out.Type.IsAdmin() {
		ch.logger.Info().
			Int64("sequence", out.Sequence).
			Str("type", typ).
			Str("directive_id", out.DirectiveID.String()).
			Msg("admin directive applied")
	}
}
