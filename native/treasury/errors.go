package treasury

import "errors"

// ErrorKind names the reason an operation was rejected. Kinds are stable
// identifiers that transports expose to clients.
type ErrorKind string

const (
	KindWindowClosed       ErrorKind = "WindowClosed"
	KindInsufficientShares ErrorKind = "InsufficientShares"
	KindNotMember          ErrorKind = "NotMember"
	KindAmountExceedsFunds ErrorKind = "AmountExceedsFunds"
	KindVotingClosed       ErrorKind = "VotingClosed"
	KindAlreadyExecuted    ErrorKind = "AlreadyExecuted"
	KindDuplicateVote      ErrorKind = "DuplicateVote"
	KindNotAdmin           ErrorKind = "NotAdmin"
	KindVotingStillOpen    ErrorKind = "VotingStillOpen"
	KindQuorumNotMet       ErrorKind = "QuorumNotMet"
	KindInsufficientFunds  ErrorKind = "InsufficientFunds"
	KindProposalNotFound   ErrorKind = "ProposalNotFound"
	KindInvalidAmount      ErrorKind = "InvalidAmount"
	KindInvalidAddress     ErrorKind = "InvalidAddress"
	KindAmountOverflow     ErrorKind = "AmountOverflow"
	KindInvalidParams      ErrorKind = "InvalidParams"
	KindPayoutFailed       ErrorKind = "PayoutFailed"
)

// Error is a rejection raised by the ledger. Two errors match under errors.Is
// when their kinds are equal, so wrapped sentinels keep their identity.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return "treasury: " + e.Message }

// Is reports whether target carries the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrWindowClosed       = &Error{Kind: KindWindowClosed, Message: "contribution window closed"}
	ErrInsufficientShares = &Error{Kind: KindInsufficientShares, Message: "don't have enough shares"}
	ErrNotMember          = &Error{Kind: KindNotMember, Message: "can only be called by investor"}
	ErrAmountExceedsFunds = &Error{Kind: KindAmountExceedsFunds, Message: "amount too big"}
	ErrVotingClosed       = &Error{Kind: KindVotingClosed, Message: "voting period closed"}
	ErrAlreadyExecuted    = &Error{Kind: KindAlreadyExecuted, Message: "proposal already executed"}
	ErrDuplicateVote      = &Error{Kind: KindDuplicateVote, Message: "already voted on proposal"}
	ErrNotAdmin           = &Error{Kind: KindNotAdmin, Message: "only admin allowed"}
	ErrVotingStillOpen    = &Error{Kind: KindVotingStillOpen, Message: "can only execute after a proposal ends"}
	ErrQuorumNotMet       = &Error{Kind: KindQuorumNotMet, Message: "not enough votes"}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds, Message: "insufficient available funds"}
	ErrProposalNotFound   = &Error{Kind: KindProposalNotFound, Message: "proposal not found"}
	ErrInvalidAmount      = &Error{Kind: KindInvalidAmount, Message: "amount must be positive"}
	ErrInvalidAddress     = &Error{Kind: KindInvalidAddress, Message: "address must not be empty"}
	ErrAmountOverflow     = &Error{Kind: KindAmountOverflow, Message: "amount exceeds 256 bits"}
	ErrInvalidParams      = &Error{Kind: KindInvalidParams, Message: "invalid treasury parameters"}
	ErrPayoutFailed       = &Error{Kind: KindPayoutFailed, Message: "payout failed"}
)

// KindOf extracts the rejection kind from err. The second result is false when
// err is nil or did not originate from the ledger.
func KindOf(err error) (ErrorKind, bool) {
	var target *Error
	if err == nil || !errors.As(err, &target) {
		return "", false
	}
	return target.Kind, true
}
