package events

import (
	"math/big"
	"strconv"
	"time"

	"daotreasury/core/types"
)

const (
	TypeTreasuryInvested        = "treasury.invested"
	TypeTreasuryRedeemed        = "treasury.redeemed"
	TypeTreasuryTransferred     = "treasury.transferred"
	TypeTreasuryProposalCreated = "treasury.proposal_created"
	TypeTreasuryVoted           = "treasury.voted"
	TypeTreasuryExecuted        = "treasury.executed"
	TypeTreasuryPayoutReverted  = "treasury.payout_reverted"
)

// TreasuryInvested is emitted when a deposit mints shares for the investor.
type TreasuryInvested struct {
	Sequence uint64
	Investor [20]byte
	Amount   *big.Int
	Balance  *big.Int
}

func (TreasuryInvested) EventType() string { return TypeTreasuryInvested }

func (e TreasuryInvested) Event() *types.Event {
	return &types.Event{
		Type:     TypeTreasuryInvested,
		Sequence: e.Sequence,
		Attributes: map[string]string{
			"investor": formatAddress(e.Investor),
			"amount":   formatAmount(e.Amount),
			"balance":  formatAmount(e.Balance),
		},
	}
}

// TreasuryRedeemed is emitted when shares are burned and their value paid back.
type TreasuryRedeemed struct {
	Sequence uint64
	Investor [20]byte
	Amount   *big.Int
	Balance  *big.Int
}

func (TreasuryRedeemed) EventType() string { return TypeTreasuryRedeemed }

func (e TreasuryRedeemed) Event() *types.Event {
	return &types.Event{
		Type:     TypeTreasuryRedeemed,
		Sequence: e.Sequence,
		Attributes: map[string]string{
			"investor": formatAddress(e.Investor),
			"amount":   formatAmount(e.Amount),
			"balance":  formatAmount(e.Balance),
		},
	}
}

// TreasuryTransferred is emitted when voting power moves between accounts.
type TreasuryTransferred struct {
	Sequence uint64
	From     [20]byte
	To       [20]byte
	Amount   *big.Int
}

func (TreasuryTransferred) EventType() string { return TypeTreasuryTransferred }

func (e TreasuryTransferred) Event() *types.Event {
	return &types.Event{
		Type:     TypeTreasuryTransferred,
		Sequence: e.Sequence,
		Attributes: map[string]string{
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

// TreasuryProposalCreated is emitted when a member opens a spending proposal.
type TreasuryProposalCreated struct {
	Sequence   uint64
	ProposalID uint64
	Proposer   [20]byte
	Name       string
	Recipient  [20]byte
	Amount     *big.Int
	Deadline   time.Time
}

func (TreasuryProposalCreated) EventType() string { return TypeTreasuryProposalCreated }

func (e TreasuryProposalCreated) Event() *types.Event {
	return &types.Event{
		Type:     TypeTreasuryProposalCreated,
		Sequence: e.Sequence,
		Attributes: map[string]string{
			"id":        uintToString(e.ProposalID),
			"proposer":  formatAddress(e.Proposer),
			"name":      e.Name,
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"deadline":  formatTime(e.Deadline),
		},
	}
}

// TreasuryVoted is emitted for every accepted ballot with the weight applied.
type TreasuryVoted struct {
	Sequence   uint64
	ProposalID uint64
	Voter      [20]byte
	Weight     *big.Int
	Votes      *big.Int
}

func (TreasuryVoted) EventType() string { return TypeTreasuryVoted }

func (e TreasuryVoted) Event() *types.Event {
	return &types.Event{
		Type:     TypeTreasuryVoted,
		Sequence: e.Sequence,
		Attributes: map[string]string{
			"id":     uintToString(e.ProposalID),
			"voter":  formatAddress(e.Voter),
			"weight": formatAmount(e.Weight),
			"votes":  formatAmount(e.Votes),
		},
	}
}

// TreasuryExecuted is emitted once a proposal's payment has been committed.
type TreasuryExecuted struct {
	Sequence   uint64
	ProposalID uint64
	Recipient  [20]byte
	Amount     *big.Int
	// Turnout is votes*100/total shares, truncated. Share transfers after a
	// vote can push it above 100.
	Turnout *big.Int
}

func (TreasuryExecuted) EventType() string { return TypeTreasuryExecuted }

func (e TreasuryExecuted) Event() *types.Event {
	return &types.Event{
		Type:     TypeTreasuryExecuted,
		Sequence: e.Sequence,
		Attributes: map[string]string{
			"id":        uintToString(e.ProposalID),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"turnout":   formatAmount(e.Turnout),
		},
	}
}

// TreasuryPayoutReverted is emitted when an outbound payment failed and the
// ledger effects of the triggering operation were rolled back.
type TreasuryPayoutReverted struct {
	Sequence   uint64
	Reason     string
	ProposalID *uint64
	Recipient  [20]byte
	Amount     *big.Int
	Error      string
}

func (TreasuryPayoutReverted) EventType() string { return TypeTreasuryPayoutReverted }

func (e TreasuryPayoutReverted) Event() *types.Event {
	attrs := map[string]string{
		"reason":    e.Reason,
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
		"error":     e.Error,
	}
	if e.ProposalID != nil {
		attrs["id"] = strconv.FormatUint(*e.ProposalID, 10)
	}
	return &types.Event{Type: TypeTreasuryPayoutReverted, Sequence: e.Sequence, Attributes: attrs}
}
