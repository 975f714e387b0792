package events

import (
	"math/big"
	"testing"
	"time"

	"daotreasury/crypto"
)

type recordingEmitter struct {
	seen []string
}

func (r *recordingEmitter) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestTreasuryProposalCreatedAttributes(t *testing.T) {
	proposer := [20]byte{1}
	recipient := [20]byte{2}
	deadline := time.Unix(1_700_000_000, 0)
	evt := TreasuryProposalCreated{
		Sequence:   7,
		ProposalID: 3,
		Proposer:   proposer,
		Name:       "DAI",
		Recipient:  recipient,
		Amount:     big.NewInt(500),
		Deadline:   deadline,
	}.Event()

	if evt.Type != TypeTreasuryProposalCreated {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Sequence != 7 {
		t.Fatalf("unexpected sequence %d", evt.Sequence)
	}
	if got := evt.Attribute("id"); got != "3" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := evt.Attribute("recipient"); got != crypto.MemberAddress(recipient).String() {
		t.Fatalf("unexpected recipient %q", got)
	}
	if got := evt.Attribute("deadline"); got != "1700000000" {
		t.Fatalf("unexpected deadline %q", got)
	}
	if got := evt.Attribute("amount"); got != "500" {
		t.Fatalf("unexpected amount %q", got)
	}
}

func TestPayoutRevertedOmitsMissingProposal(t *testing.T) {
	evt := TreasuryPayoutReverted{Reason: "redeem", Amount: nil}.Event()
	if _, ok := evt.Attributes["id"]; ok {
		t.Fatalf("expected no id attribute for redeem payouts")
	}
	if evt.Attribute("amount") != "0" {
		t.Fatalf("expected nil amount to format as zero")
	}
	id := uint64(9)
	evt = TreasuryPayoutReverted{Reason: "proposal", ProposalID: &id}.Event()
	if evt.Attribute("id") != "9" {
		t.Fatalf("expected proposal id attribute")
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	first := &recordingEmitter{}
	second := &recordingEmitter{}
	multi := MultiEmitter{first, nil, second}
	multi.Emit(TreasuryInvested{})
	multi.Emit(TreasuryVoted{})
	if len(first.seen) != 2 || len(second.seen) != 2 {
		t.Fatalf("expected both emitters to receive two events, got %d and %d", len(first.seen), len(second.seen))
	}
	if first.seen[1] != TypeTreasuryVoted {
		t.Fatalf("unexpected order %v", first.seen)
	}
}

func TestTreasuryExecutedTurnoutBeyondUint64(t *testing.T) {
	turnout, _ := new(big.Int).SetString("118059162071741130342400", 10)
	evt := TreasuryExecuted{ProposalID: 1, Amount: big.NewInt(1), Turnout: turnout}.Event()
	if got := evt.Attribute("turnout"); got != "118059162071741130342400" {
		t.Fatalf("unexpected turnout %q", got)
	}
	if got := (TreasuryExecuted{}).Event().Attribute("turnout"); got != "0" {
		t.Fatalf("expected missing turnout to format as zero, got %q", got)
	}
}
