package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/core"
	"PerpVAMM/internal/event"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/state"
	"PerpVAMM/internal/store"
	"PerpVAMM/internal/vault"
)

const (
	CollateralVault = "collateral_vault"
	InsuranceVault  = "insurance_vault"
	HistoryStream   = "history"
	OracleName      = "SOL/USD"

	// StartTs is the timestamp of the first directive a Harness signs.
	StartTs int64 = 1_700_000_000
)

// InsuranceSeed is what NewHarness funds the insurance vault with.
var InsuranceSeed = fpmath.NewUint(1_000_000_000_000)

// Harness is a bootstrapped clearing house over in-memory state, vaults and
// oracle, with every output captured.
type Harness struct {
	T       *testing.T
	Ctx     context.Context
	CH      *core.ClearingHouse
	Store   *store.Memory
	Vaults  *vault.Ledger
	Oracle  *oracle.Service
	Metrics *observability.Metrics
	Admin   uuid.UUID
	Outputs chan event.Output
	Now     int64
}

func NewHarness(t *testing.T) *Harness {
	t.Helper()
	ctx := context.Background()
	h := &Harness{
		T:       t,
		Ctx:     ctx,
		Store:   store.NewMemory(),
		Vaults:  vault.NewLedger(),
		Oracle:  oracle.NewService(),
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
		Admin:   uuid.New(),
		Outputs: make(chan event.Output, 4096),
		Now:     StartTs,
	}
	logger := zerolog.Nop()
	ch, err := core.NewClearingHouse(h.Store, h.Vaults, h.Oracle, core.Options{
		PersistChan:         h.Outputs,
		IdempotencyCapacity: 1024,
		Metrics:             h.Metrics,
		Logger:              &logger,
	})
	require.NoError(t, err)
	h.CH = ch

	require.NoError(t, ch.Bootstrap(ctx, core.Defaults{
		Protocol:     state.DefaultProtocolState(h.Admin, CollateralVault, InsuranceVault, HistoryStream, OracleName),
		FeeStructure: state.DefaultFeeStructure(),
		Rails:        state.DefaultOracleGuardRails(),
		OrderState:   state.DefaultOrderState(),
	}))
	require.NoError(t, h.Vaults.Fund(ctx, InsuranceVault, InsuranceSeed))
	return h
}

// Header signs the next directive as signer, one second after the last.
func (h *Harness) Header(signer uuid.UUID) event.Header {
	h.Now++
	return event.Header{ID: uuid.New(), Authority: signer, Ts: h.Now}
}

func (h *Harness) Apply(d event.Directive) error {
	return h.CH.Apply(h.Ctx, d)
}

// MustApply applies d and returns its output.
func (h *Harness) MustApply(d event.Directive) event.Output {
	h.T.Helper()
	require.NoError(h.T, h.CH.Apply(h.Ctx, d))
	select {
	case out := <-h.Outputs:
		return out
	default:
		h.T.Fatalf("no output for %s", d.DirectiveType())
		return event.Output{}
	}
}

// InitMarket creates a market with equal reserves and the given peg, so the
// mark price starts at the peg.
func (h *Harness) InitMarket(index uint64, reserve, peg fpmath.Uint) event.Output {
	return h.MustApply(&event.InitializeMarket{
		Header:                 h.Header(h.Admin),
		Market:                 index,
		Symbol:                 "SOL-PERP",
		BaseAssetReserve:       reserve,
		QuoteAssetReserve:      reserve,
		FundingPeriod:          fpmath.OneHour,
		PegMultiplier:          peg,
		MarginRatioInitial:     2000,
		MarginRatioPartial:     625,
		MarginRatioMaintenance: 500,
	})
}

// Deposit creates or tops up a user.
func (h *Harness) Deposit(user uuid.UUID, amount uint64) event.Output {
	return h.MustApply(&event.Deposit{Header: h.Header(user), Amount: fpmath.NewUint(amount)})
}

func (h *Harness) User(id uuid.UUID) *state.User {
	h.T.Helper()
	u, err := core.ReadUser(h.Ctx, h.Store, id)
	require.NoError(h.T, err)
	return u
}

func (h *Harness) Market(index uint64) *state.Market {
	h.T.Helper()
	m, err := core.ReadMarket(h.Ctx, h.Store, index)
	require.NoError(h.T, err)
	return m
}

func (h *Harness) Positions(user uuid.UUID) []*state.Position {
	h.T.Helper()
	ps, err := core.ReadPositions(h.Ctx, h.Store, user)
	require.NoError(h.T, err)
	return ps
}

func (h *Harness) ProtocolState() *state.ProtocolState {
	h.T.Helper()
	ps, err := core.ReadProtocolState(h.Ctx, h.Store)
	require.NoError(h.T, err)
	return ps
}

// VaultBalance reads a vault's token balance.
func (h *Harness) VaultBalance(name string) fpmath.Uint {
	h.T.Helper()
	b, err := h.Vaults.Balance(h.Ctx, name)
	require.NoError(h.T, err)
	return b
}

// RecordsOf returns the records of one kind in an output.
func RecordsOf(out event.Output, kind event.HistoryKind) []event.Record {
	var rs []event.Record
	for _, r := range out.Records {
		if r.Kind == kind {
			rs = append(rs, r)
		}
	}
	return rs
}
