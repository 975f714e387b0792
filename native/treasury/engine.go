package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"daotreasury/core/events"
	"daotreasury/crypto"
)

const tracerName = "daotreasury/native/treasury"

// Engine serialises every ledger operation, persists the resulting changeset
// before applying it, and performs payouts only after the ledger lock has been
// released. A vault that calls back into the engine therefore observes the
// post-debit state.
//
// Emitters are invoked while the lock is held and must not call the engine.
type Engine struct {
	mu      sync.Mutex
	ledger  *Ledger
	store   Store
	emitter events.Emitter
	vault   Vault
	metrics Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewEngine creates an engine whose state lives only in memory.
func NewEngine(params Params, admin [20]byte) (*Engine, error) {
	return Open(memoryStore{}, params, admin)
}

// Open restores the ledger from store, initialising it on first use.
func Open(store Store, params Params, admin [20]byte) (*Engine, error) {
	if store == nil {
		store = memoryStore{}
	}
	ledger, err := store.Load(params, admin)
	if err != nil {
		return nil, err
	}
	return &Engine{
		ledger:  ledger,
		store:   store,
		emitter: events.NoopEmitter{},
		vault:   noopVault{},
		metrics: noopMetrics{},
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// SetEmitter configures the event sink. Nil discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetVault configures the payout backend. Nil accepts every payout without
// moving value.
func (e *Engine) SetVault(vault Vault) {
	if vault == nil {
		vault = noopVault{}
	}
	e.vault = vault
}

// SetMetrics configures the instrumentation sink.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.metrics = m
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetTracer overrides the OpenTelemetry tracer.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	e.tracer = tracer
}

func addr(raw [20]byte) string { return crypto.MemberAddress(raw).String() }

func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := e.tracer.Start(ctx, "treasury."+op, trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("treasury operation rejected", "op", op, "outcome", outcome, "error", err)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	e.metrics.ObserveOperation(op, outcome, time.Since(start))
	return err
}

// commit persists cs and installs it in the in-memory ledger. Callers hold mu.
func (e *Engine) commit(cs *Changeset) error {
	if err := e.store.Commit(cs); err != nil {
		return fmt.Errorf("treasury: persist changeset %d: %w", cs.Sequence, err)
	}
	if err := e.ledger.Apply(cs); err != nil {
		return err
	}
	e.metrics.SetTotals(e.ledger.totalShares, e.ledger.availableFunds, e.ledger.ProposalCount())
	return nil
}

func (e *Engine) emit(evt events.Event) {
	e.emitter.Emit(evt)
}

// Invest mints amount shares to caller. Only possible while now is before the
// contribution end.
func (e *Engine) Invest(ctx context.Context, caller [20]byte, amount *big.Int, now time.Time) error {
	attrs := []attribute.KeyValue{attribute.String("caller", addr(caller))}
	return e.run(ctx, "invest", attrs, func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		cs, err := e.ledger.planInvest(caller, amount, now)
		if err != nil {
			return err
		}
		if err := e.commit(cs); err != nil {
			return err
		}
		e.emit(events.TreasuryInvested{
			Sequence: cs.Sequence,
			Investor: caller,
			Amount:   cloneBigInt(amount),
			Balance:  e.ledger.Balance(caller),
		})
		return nil
	})
}

// Redeem burns amount shares and pays their value back to caller. A zero or
// negative amount is rejected with ErrInvalidAmount rather than accepted as a
// no-op.
func (e *Engine) Redeem(ctx context.Context, caller [20]byte, amount *big.Int) error {
	attrs := []attribute.KeyValue{attribute.String("caller", addr(caller))}
	return e.run(ctx, "redeem", attrs, func(ctx context.Context) error {
		e.mu.Lock()
		cs, payout, err := e.ledger.planRedeem(caller, amount)
		if err == nil {
			err = e.commit(cs)
		}
		if err != nil {
			e.mu.Unlock()
			return err
		}
		e.emit(events.TreasuryRedeemed{
			Sequence: cs.Sequence,
			Investor: caller,
			Amount:   cloneBigInt(amount),
			Balance:  e.ledger.Balance(caller),
		})
		e.mu.Unlock()
		return e.pay(ctx, payout)
	})
}

// Transfer moves amount shares from caller to to. A zero or negative amount is
// rejected with ErrInvalidAmount rather than accepted as a no-op.
func (e *Engine) Transfer(ctx context.Context, caller [20]byte, amount *big.Int, to [20]byte) error {
	attrs := []attribute.KeyValue{
		attribute.String("caller", addr(caller)),
		attribute.String("to", addr(to)),
	}
	return e.run(ctx, "transfer", attrs, func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		cs, err := e.ledger.planTransfer(caller, amount, to)
		if err != nil {
			return err
		}
		if err := e.commit(cs); err != nil {
			return err
		}
		e.emit(events.TreasuryTransferred{
			Sequence: cs.Sequence,
			From:     caller,
			To:       to,
			Amount:   cloneBigInt(amount),
		})
		return nil
	})
}

// CreateProposal registers a spending request and returns its id. Voting stays
// open for the configured window from now. A zero amount is rejected with
// ErrInvalidAmount.
func (e *Engine) CreateProposal(ctx context.Context, caller [20]byte, name string, amount *big.Int, recipient [20]byte, now time.Time) (uint64, error) {
	var id uint64
	attrs := []attribute.KeyValue{
		attribute.String("caller", addr(caller)),
		attribute.String("recipient", addr(recipient)),
	}
	err := e.run(ctx, "create_proposal", attrs, func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		cs, err := e.ledger.planCreateProposal(caller, name, amount, recipient, now)
		if err != nil {
			return err
		}
		if err := e.commit(cs); err != nil {
			return err
		}
		p := cs.Proposal
		id = p.ID
		e.emit(events.TreasuryProposalCreated{
			Sequence:   cs.Sequence,
			ProposalID: p.ID,
			Proposer:   caller,
			Name:       p.Name,
			Recipient:  p.Recipient,
			Amount:     cloneBigInt(p.Amount),
			Deadline:   p.Deadline,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Vote adds caller's current share balance to proposal id.
func (e *Engine) Vote(ctx context.Context, caller [20]byte, id uint64, now time.Time) error {
	attrs := []attribute.KeyValue{
		attribute.String("caller", addr(caller)),
		attribute.Int64("proposal", int64(id)),
	}
	return e.run(ctx, "vote", attrs, func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		weight := e.ledger.Balance(caller)
		cs, err := e.ledger.planVote(caller, id, now)
		if err != nil {
			return err
		}
		if err := e.commit(cs); err != nil {
			return err
		}
		e.emit(events.TreasuryVoted{
			Sequence:   cs.Sequence,
			ProposalID: id,
			Voter:      caller,
			Weight:     weight,
			Votes:      cloneBigInt(cs.Proposal.Votes),
		})
		return nil
	})
}

// Execute pays out proposal id once voting has ended and quorum is met. Only
// the administrator may execute.
func (e *Engine) Execute(ctx context.Context, caller [20]byte, id uint64, now time.Time) error {
	attrs := []attribute.KeyValue{
		attribute.String("caller", addr(caller)),
		attribute.Int64("proposal", int64(id)),
	}
	return e.run(ctx, "execute", attrs, func(ctx context.Context) error {
		e.mu.Lock()
		cs, payout, err := e.ledger.planExecute(caller, id, now)
		if err == nil {
			err = e.commit(cs)
		}
		if err != nil {
			e.mu.Unlock()
			return err
		}
		shares := e.ledger.TotalShares()
		e.emit(events.TreasuryExecuted{
			Sequence:   cs.Sequence,
			ProposalID: id,
			Recipient:  payout.Recipient,
			Amount:     cloneBigInt(payout.Amount),
			Turnout:    turnout(cs.Proposal.Votes, shares),
		})
		e.mu.Unlock()
		return e.pay(ctx, payout)
	})
}

// pay hands payout to the vault without holding the lock. A failed payout is
// compensated by a second changeset that restores what the first removed.
func (e *Engine) pay(ctx context.Context, payout *Payout) error {
	payErr := e.vault.Pay(ctx, *payout)
	if payErr == nil {
		e.logger.Info("treasury payout",
			"reason", string(payout.Reason),
			"recipient", addr(payout.Recipient),
			"amount", payout.Amount.String(),
			"sequence", payout.Sequence)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var cs *Changeset
	switch payout.Reason {
	case PayoutRedeem:
		cs = e.ledger.planRedeemRevert(payout)
	default:
		cs = e.ledger.planExecuteRevert(payout)
	}
	if err := e.commit(cs); err != nil {
		e.logger.Error("treasury payout compensation failed",
			"sequence", payout.Sequence, "error", err, "payout_error", payErr)
		return fmt.Errorf("%w: %w: compensation: %w", ErrPayoutFailed, payErr, err)
	}
	e.logger.Warn("treasury payout reverted",
		"reason", string(payout.Reason),
		"recipient", addr(payout.Recipient),
		"amount", payout.Amount.String(),
		"error", payErr)
	e.emit(events.TreasuryPayoutReverted{
		Sequence:   cs.Sequence,
		Reason:     string(payout.Reason),
		ProposalID: payout.ProposalID,
		Recipient:  payout.Recipient,
		Amount:     cloneBigInt(payout.Amount),
		Error:      payErr.Error(),
	})
	return fmt.Errorf("%w: %w", ErrPayoutFailed, payErr)
}

// Balance returns the share balance of account.
func (e *Engine) Balance(account [20]byte) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance(account)
}

// IsMember reports whether account holds shares.
func (e *Engine) IsMember(account [20]byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.IsMember(account)
}

// TotalShares returns the outstanding share supply.
func (e *Engine) TotalShares() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalShares()
}

// AvailableFunds returns the treasury value not yet paid out.
func (e *Engine) AvailableFunds() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.AvailableFunds()
}

// Proposal returns a copy of proposal id.
func (e *Engine) Proposal(id uint64) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.ledger.Proposal(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrProposalNotFound, id)
	}
	return p, nil
}

// ProposalCount returns the number of proposals created.
func (e *Engine) ProposalCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.ProposalCount()
}

// HasVoted reports whether voter voted on proposal id.
func (e *Engine) HasVoted(voter [20]byte, id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.HasVoted(voter, id)
}

// Members returns every positive balance.
func (e *Engine) Members() map[[20]byte]*big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Members()
}

// Params returns the treasury configuration.
func (e *Engine) Params() Params { return e.ledger.Params() }

// Admin returns the administrator identity.
func (e *Engine) Admin() [20]byte { return e.ledger.Admin() }

// Summary returns the ledger totals.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Summary()
}
