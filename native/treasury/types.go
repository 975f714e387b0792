package treasury

import (
	"fmt"
	"math/big"
	"time"
)

// MaxQuorumPercent bounds the configurable quorum.
const MaxQuorumPercent = 100

// Params captures the immutable configuration fixed when the treasury is
// created. ContributionEnd is absolute; VoteWindow is applied to every
// proposal relative to its creation time.
type Params struct {
	ContributionEnd time.Time
	VoteWindow      time.Duration
	QuorumPercent   uint64
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	if p.ContributionEnd.IsZero() {
		return fmt.Errorf("%w: contribution end required", ErrInvalidParams)
	}
	if p.ContributionEnd.Unix() < 0 {
		return fmt.Errorf("%w: contribution end before unix epoch", ErrInvalidParams)
	}
	if p.VoteWindow <= 0 {
		return fmt.Errorf("%w: vote window must be positive", ErrInvalidParams)
	}
	if p.QuorumPercent > MaxQuorumPercent {
		return fmt.Errorf("%w: quorum %d exceeds %d", ErrInvalidParams, p.QuorumPercent, MaxQuorumPercent)
	}
	return nil
}

// Equal reports whether two parameter sets are identical. Times are compared
// as instants.
func (p Params) Equal(other Params) bool {
	return p.ContributionEnd.Equal(other.ContributionEnd) &&
		p.VoteWindow == other.VoteWindow &&
		p.QuorumPercent == other.QuorumPercent
}

// Proposal is a request to pay Amount from the treasury to Recipient.
// Votes accumulates the share weight of every member that voted for it.
type Proposal struct {
	ID         uint64
	Name       string
	Proposer   [20]byte
	Amount     *big.Int
	Recipient  [20]byte
	Votes      *big.Int
	CreatedAt  time.Time
	Deadline   time.Time
	Executed   bool
	ExecutedAt time.Time
}

// Copy returns a deep copy to avoid callers mutating ledger-owned pointers.
func (p *Proposal) Copy() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = cloneBigInt(p.Amount)
	clone.Votes = cloneBigInt(p.Votes)
	return &clone
}

// Open reports whether the proposal still accepts votes at now.
func (p *Proposal) Open(now time.Time) bool {
	return p != nil && now.Before(p.Deadline)
}

// VoteReceipt records that Voter has voted on ProposalID.
type VoteReceipt struct {
	ProposalID uint64
	Voter      [20]byte
}

// Stats tracks cumulative flows through the treasury. At every observable
// point AvailableFunds == Invested - Redeemed - Disbursed.
type Stats struct {
	Invested  *big.Int
	Redeemed  *big.Int
	Disbursed *big.Int
}

func (s Stats) copy() Stats {
	return Stats{
		Invested:  cloneBigInt(s.Invested),
		Redeemed:  cloneBigInt(s.Redeemed),
		Disbursed: cloneBigInt(s.Disbursed),
	}
}

// Summary is a point-in-time view of the ledger totals.
type Summary struct {
	Params         Params
	Admin          [20]byte
	TotalShares    *big.Int
	AvailableFunds *big.Int
	ProposalCount  uint64
	Sequence       uint64
	Stats          Stats
}

// PayoutReason tells the vault why value leaves the treasury.
type PayoutReason string

const (
	PayoutRedeem   PayoutReason = "redeem"
	PayoutProposal PayoutReason = "proposal"
)

// Payout is an outbound value transfer requested by the ledger after its
// state has been committed.
type Payout struct {
	Sequence   uint64
	Reason     PayoutReason
	ProposalID *uint64
	Recipient  [20]byte
	Amount     *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
