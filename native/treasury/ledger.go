package treasury

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

var (
	zeroAddress [20]byte
	hundred     = big.NewInt(100)
)

// Changeset is the complete effect of one accepted operation. It is computed
// against the current ledger without touching it, persisted, and only then
// applied, so a rejected or unpersisted operation leaves no trace.
type Changeset struct {
	Sequence       uint64
	Balances       map[[20]byte]*big.Int
	TotalShares    *big.Int
	AvailableFunds *big.Int
	Stats          Stats
	ProposalCount  uint64
	Proposal       *Proposal
	Receipt        *VoteReceipt
}

// Ledger is the treasury state machine: share balances, fund counters, the
// proposal registry and vote receipts. It performs no I/O and never reads a
// clock; callers pass the current time into every time-gated operation.
type Ledger struct {
	params         Params
	admin          [20]byte
	balances       map[[20]byte]*big.Int
	totalShares    *big.Int
	availableFunds *big.Int
	stats          Stats
	proposals      []*Proposal
	receipts       map[VoteReceipt]struct{}
	sequence       uint64
}

// NewLedger creates an empty ledger owned by admin.
func NewLedger(params Params, admin [20]byte) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if admin == zeroAddress {
		return nil, fmt.Errorf("%w: administrator required", ErrInvalidParams)
	}
	return &Ledger{
		params:         params,
		admin:          admin,
		balances:       make(map[[20]byte]*big.Int),
		totalShares:    big.NewInt(0),
		availableFunds: big.NewInt(0),
		stats:          Stats{Invested: big.NewInt(0), Redeemed: big.NewInt(0), Disbursed: big.NewInt(0)},
		receipts:       make(map[VoteReceipt]struct{}),
	}, nil
}

// Params returns the immutable configuration.
func (l *Ledger) Params() Params { return l.params }

// Admin returns the administrator identity.
func (l *Ledger) Admin() [20]byte { return l.admin }

// Balance returns the share balance held by addr.
func (l *Ledger) Balance(addr [20]byte) *big.Int {
	return cloneBigInt(l.balances[addr])
}

// IsMember reports whether addr currently holds a positive share balance.
func (l *Ledger) IsMember(addr [20]byte) bool {
	bal, ok := l.balances[addr]
	return ok && bal.Sign() > 0
}

// TotalShares returns the sum of all balances.
func (l *Ledger) TotalShares() *big.Int { return cloneBigInt(l.totalShares) }

// AvailableFunds returns the treasury value not yet paid out.
func (l *Ledger) AvailableFunds() *big.Int { return cloneBigInt(l.availableFunds) }

// Stats returns the cumulative flow counters.
func (l *Ledger) Stats() Stats { return l.stats.copy() }

// Sequence returns the number of operations applied so far.
func (l *Ledger) Sequence() uint64 { return l.sequence }

// ProposalCount returns the number of proposals ever created, which is also
// the id the next proposal will receive.
func (l *Ledger) ProposalCount() uint64 { return uint64(len(l.proposals)) }

// Proposal returns a copy of the proposal with the given id.
func (l *Ledger) Proposal(id uint64) (*Proposal, bool) {
	p := l.proposal(id)
	if p == nil {
		return nil, false
	}
	return p.Copy(), true
}

// HasVoted reports whether voter holds a receipt for proposal id.
func (l *Ledger) HasVoted(voter [20]byte, id uint64) bool {
	_, ok := l.receipts[VoteReceipt{ProposalID: id, Voter: voter}]
	return ok
}

// Members returns a copy of every positive balance.
func (l *Ledger) Members() map[[20]byte]*big.Int {
	out := make(map[[20]byte]*big.Int, len(l.balances))
	for addr, bal := range l.balances {
		if bal.Sign() > 0 {
			out[addr] = cloneBigInt(bal)
		}
	}
	return out
}

// Summary returns the ledger totals.
func (l *Ledger) Summary() Summary {
	return Summary{
		Params:         l.params,
		Admin:          l.admin,
		TotalShares:    l.TotalShares(),
		AvailableFunds: l.AvailableFunds(),
		ProposalCount:  l.ProposalCount(),
		Sequence:       l.sequence,
		Stats:          l.Stats(),
	}
}

func (l *Ledger) proposal(id uint64) *Proposal {
	if id >= uint64(len(l.proposals)) {
		return nil
	}
	return l.proposals[id]
}

func (l *Ledger) changeset() *Changeset {
	return &Changeset{
		Sequence:       l.sequence + 1,
		Balances:       make(map[[20]byte]*big.Int, 2),
		TotalShares:    cloneBigInt(l.totalShares),
		AvailableFunds: cloneBigInt(l.availableFunds),
		Stats:          l.stats.copy(),
		ProposalCount:  l.ProposalCount(),
	}
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return nil
}

func fits256(v *big.Int) bool {
	_, overflow := uint256.FromBig(v)
	return !overflow
}

// debit subtracts amount from v, failing instead of going negative.
func debit(v, amount *big.Int) (*big.Int, error) {
	if v.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	return new(big.Int).Sub(v, amount), nil
}

func (l *Ledger) planInvest(caller [20]byte, amount *big.Int, now time.Time) (*Changeset, error) {
	if caller == zeroAddress {
		return nil, ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if !now.Before(l.params.ContributionEnd) {
		return nil, ErrWindowClosed
	}
	cs := l.changeset()
	cs.TotalShares.Add(cs.TotalShares, amount)
	cs.AvailableFunds.Add(cs.AvailableFunds, amount)
	cs.Stats.Invested.Add(cs.Stats.Invested, amount)
	if !fits256(cs.TotalShares) || !fits256(cs.Stats.Invested) {
		return nil, ErrAmountOverflow
	}
	cs.Balances[caller] = new(big.Int).Add(l.Balance(caller), amount)
	return cs, nil
}

func (l *Ledger) planRedeem(caller [20]byte, amount *big.Int) (*Changeset, *Payout, error) {
	if caller == zeroAddress {
		return nil, nil, ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return nil, nil, err
	}
	balance := l.Balance(caller)
	if balance.Cmp(amount) < 0 {
		return nil, nil, ErrInsufficientShares
	}
	cs := l.changeset()
	total, err := debit(cs.TotalShares, amount)
	if err != nil {
		return nil, nil, err
	}
	funds, err := debit(cs.AvailableFunds, amount)
	if err != nil {
		return nil, nil, err
	}
	cs.TotalShares = total
	cs.AvailableFunds = funds
	cs.Stats.Redeemed.Add(cs.Stats.Redeemed, amount)
	cs.Balances[caller] = balance.Sub(balance, amount)
	payout := &Payout{
		Sequence:  cs.Sequence,
		Reason:    PayoutRedeem,
		Recipient: caller,
		Amount:    cloneBigInt(amount),
	}
	return cs, payout, nil
}

// planRedeemRevert undoes a committed redemption whose payout failed. Every
// effect is an addition, so it cannot fail regardless of what happened in
// between.
func (l *Ledger) planRedeemRevert(payout *Payout) *Changeset {
	cs := l.changeset()
	cs.TotalShares.Add(cs.TotalShares, payout.Amount)
	cs.AvailableFunds.Add(cs.AvailableFunds, payout.Amount)
	cs.Stats.Redeemed.Sub(cs.Stats.Redeemed, payout.Amount)
	cs.Balances[payout.Recipient] = new(big.Int).Add(l.Balance(payout.Recipient), payout.Amount)
	return cs
}

func (l *Ledger) planTransfer(caller [20]byte, amount *big.Int, to [20]byte) (*Changeset, error) {
	if caller == zeroAddress || to == zeroAddress {
		return nil, ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	balance := l.Balance(caller)
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientShares
	}
	cs := l.changeset()
	if caller == to {
		cs.Balances[caller] = balance
		return cs, nil
	}
	cs.Balances[caller] = new(big.Int).Sub(balance, amount)
	cs.Balances[to] = new(big.Int).Add(l.Balance(to), amount)
	return cs, nil
}

func (l *Ledger) planCreateProposal(caller [20]byte, name string, amount *big.Int, recipient [20]byte, now time.Time) (*Changeset, error) {
	if !l.IsMember(caller) {
		return nil, ErrNotMember
	}
	if recipient == zeroAddress {
		return nil, ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if amount.Cmp(l.availableFunds) > 0 {
		return nil, ErrAmountExceedsFunds
	}
	cs := l.changeset()
	cs.Proposal = &Proposal{
		ID:        l.ProposalCount(),
		Name:      name,
		Proposer:  caller,
		Amount:    cloneBigInt(amount),
		Recipient: recipient,
		Votes:     big.NewInt(0),
		CreatedAt: now,
		Deadline:  now.Add(l.params.VoteWindow),
	}
	cs.ProposalCount++
	return cs, nil
}

func (l *Ledger) planVote(caller [20]byte, id uint64, now time.Time) (*Changeset, error) {
	p := l.proposal(id)
	if p == nil {
		return nil, fmt.Errorf("%w: id %d", ErrProposalNotFound, id)
	}
	if !l.IsMember(caller) {
		return nil, ErrNotMember
	}
	if !p.Open(now) {
		return nil, ErrVotingClosed
	}
	if p.Executed {
		return nil, ErrAlreadyExecuted
	}
	if l.HasVoted(caller, id) {
		return nil, ErrDuplicateVote
	}
	cs := l.changeset()
	updated := p.Copy()
	updated.Votes.Add(updated.Votes, l.balances[caller])
	cs.Proposal = updated
	cs.Receipt = &VoteReceipt{ProposalID: id, Voter: caller}
	return cs, nil
}

// turnout returns votes*100/totalShares truncated. An empty treasury has zero
// turnout.
func turnout(votes, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(votes, hundred)
	return scaled.Quo(scaled, totalShares)
}

func (l *Ledger) planExecute(caller [20]byte, id uint64, now time.Time) (*Changeset, *Payout, error) {
	if caller != l.admin {
		return nil, nil, ErrNotAdmin
	}
	p := l.proposal(id)
	if p == nil {
		return nil, nil, fmt.Errorf("%w: id %d", ErrProposalNotFound, id)
	}
	if now.Before(p.Deadline) {
		return nil, nil, ErrVotingStillOpen
	}
	if p.Executed {
		return nil, nil, ErrAlreadyExecuted
	}
	if turnout(p.Votes, l.totalShares).Cmp(new(big.Int).SetUint64(l.params.QuorumPercent)) < 0 {
		return nil, nil, ErrQuorumNotMet
	}
	cs := l.changeset()
	funds, err := debit(cs.AvailableFunds, p.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: proposal %d needs %s, %s available", err, id, p.Amount, l.availableFunds)
	}
	cs.AvailableFunds = funds
	cs.Stats.Disbursed.Add(cs.Stats.Disbursed, p.Amount)
	updated := p.Copy()
	updated.Executed = true
	updated.ExecutedAt = now
	cs.Proposal = updated
	pid := id
	payout := &Payout{
		Sequence:   cs.Sequence,
		Reason:     PayoutProposal,
		ProposalID: &pid,
		Recipient:  p.Recipient,
		Amount:     cloneBigInt(p.Amount),
	}
	return cs, payout, nil
}

// planExecuteRevert reopens a proposal whose payout failed and restores the
// funds it consumed.
func (l *Ledger) planExecuteRevert(payout *Payout) *Changeset {
	cs := l.changeset()
	cs.AvailableFunds.Add(cs.AvailableFunds, payout.Amount)
	cs.Stats.Disbursed.Sub(cs.Stats.Disbursed, payout.Amount)
	if payout.ProposalID != nil {
		if p := l.proposal(*payout.ProposalID); p != nil {
			updated := p.Copy()
			updated.Executed = false
			updated.ExecutedAt = time.Time{}
			cs.Proposal = updated
		}
	}
	return cs
}

// Apply installs a changeset produced by one of the plan methods. Changesets
// must be applied in the order they were planned.
func (l *Ledger) Apply(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	if cs.Sequence != l.sequence+1 {
		return fmt.Errorf("treasury: changeset sequence %d does not follow %d", cs.Sequence, l.sequence)
	}
	if cs.Proposal != nil && cs.Proposal.ID > uint64(len(l.proposals)) {
		return fmt.Errorf("treasury: proposal id %d out of order", cs.Proposal.ID)
	}
	for addr, bal := range cs.Balances {
		if bal.Sign() == 0 {
			delete(l.balances, addr)
			continue
		}
		l.balances[addr] = cloneBigInt(bal)
	}
	l.totalShares = cloneBigInt(cs.TotalShares)
	l.availableFunds = cloneBigInt(cs.AvailableFunds)
	l.stats = cs.Stats.copy()
	if cs.Proposal != nil {
		p := cs.Proposal.Copy()
		if p.ID < uint64(len(l.proposals)) {
			l.proposals[p.ID] = p
		} else {
			l.proposals = append(l.proposals, p)
		}
	}
	if cs.Receipt != nil {
		l.receipts[*cs.Receipt] = struct{}{}
	}
	l.sequence = cs.Sequence
	return nil
}
