package treasury

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"daotreasury/storage"
)

func TestKVStoreRestoresLedger(t *testing.T) {
	db := storage.NewMemDB()
	params := testParams(50)
	ctx := context.Background()

	engine, err := Open(NewKVStore(db), params, testAdmin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustInvest(t, engine, investorA, 6)
	mustInvest(t, engine, investorB, 4)
	if err := engine.Transfer(ctx, investorB, big.NewInt(4), investorA); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	id, err := engine.CreateProposal(ctx, investorA, "grant", big.NewInt(3), recipient, testStart)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Vote(ctx, investorA, id, testStart); err != nil {
		t.Fatalf("vote: %v", err)
	}
	open, err := engine.CreateProposal(ctx, investorA, "pending", big.NewInt(1), recipient, testStart)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := engine.Execute(ctx, testAdmin, id, testStart.Add(time.Hour)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := engine.Summary()

	restored, err := Open(NewKVStore(db), params, testAdmin)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := restored.Summary()
	if got.Sequence != want.Sequence || got.ProposalCount != 2 {
		t.Fatalf("unexpected summary %+v", got)
	}
	expectInt(t, "total shares", got.TotalShares, 10)
	expectInt(t, "available funds", got.AvailableFunds, 7)
	expectInt(t, "disbursed", got.Stats.Disbursed, 3)
	expectInt(t, "balance A", restored.Balance(investorA), 10)
	if restored.IsMember(investorB) {
		t.Fatalf("emptied balance must not be restored as a member")
	}
	if !restored.HasVoted(investorA, id) || restored.HasVoted(investorA, open) {
		t.Fatalf("unexpected receipts after restore")
	}
	p, err := restored.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if !p.Executed || !p.ExecutedAt.Equal(testStart.Add(time.Hour)) || !p.CreatedAt.Equal(testStart) {
		t.Fatalf("unexpected restored proposal %+v", p)
	}
	expectKind(t, restored.Execute(ctx, testAdmin, id, testStart.Add(time.Hour)), ErrAlreadyExecuted)

	// The restored ledger keeps sequencing from where it stopped.
	if err := restored.Vote(ctx, investorA, open, testStart); err != nil {
		t.Fatalf("vote after restore: %v", err)
	}
	if restored.Summary().Sequence != want.Sequence+1 {
		t.Fatalf("sequence did not continue")
	}
}

func TestKVStoreRejectsDifferentParams(t *testing.T) {
	db := storage.NewMemDB()
	if _, err := Open(NewKVStore(db), testParams(50), testAdmin); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := Open(NewKVStore(db), testParams(60), testAdmin); !errors.Is(err, ErrParamsMismatch) {
		t.Fatalf("expected params mismatch, got %v", err)
	}
	if _, err := Open(NewKVStore(db), testParams(50), investorA); !errors.Is(err, ErrParamsMismatch) {
		t.Fatalf("expected admin mismatch, got %v", err)
	}
}

type failingStore struct {
	memoryStore
	err error
}

func (f failingStore) Commit(*Changeset) error { return f.err }

func TestCommitFailureLeavesLedgerUntouched(t *testing.T) {
	boom := errors.New("disk full")
	engine, err := Open(failingStore{err: boom}, testParams(50), testAdmin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = engine.Invest(context.Background(), investorA, big.NewInt(1), testStart)
	if !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	expectInt(t, "balance", engine.Balance(investorA), 0)
	if engine.Summary().Sequence != 0 {
		t.Fatalf("sequence advanced on failed commit")
	}
}

func TestStoredTimeKeepsZeroAndPreEpoch(t *testing.T) {
	if !newStoredTime(time.Time{}).time().IsZero() {
		t.Fatalf("zero time lost")
	}
	epoch := time.Unix(0, 0).UTC()
	if newStoredTime(epoch).time().IsZero() || !newStoredTime(epoch).time().Equal(epoch) {
		t.Fatalf("epoch confused with zero time")
	}
	before := time.Unix(-3600, 5).UTC()
	if !newStoredTime(before).time().Equal(before) {
		t.Fatalf("pre-epoch time not preserved")
	}
}

func TestKVStoreStored(t *testing.T) {
	store := NewKVStore(storage.NewMemDB())
	if _, _, found, err := store.Stored(); err != nil || found {
		t.Fatalf("expected empty store, got found=%v err=%v", found, err)
	}
	params := testParams(33)
	if _, err := Open(store, params, testAdmin); err != nil {
		t.Fatalf("open: %v", err)
	}
	got, admin, found, err := store.Stored()
	if err != nil || !found {
		t.Fatalf("stored: found=%v err=%v", found, err)
	}
	if !got.Equal(params) || admin != testAdmin {
		t.Fatalf("unexpected stored params %+v admin %x", got, admin)
	}
}

func TestStoredTimeBeyondUnixNanoRange(t *testing.T) {
	for _, ts := range []time.Time{
		time.Date(2262, 4, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 123, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 999_999_999, time.UTC),
		time.Date(1600, 1, 1, 0, 0, 0, 1, time.UTC),
	} {
		if got := newStoredTime(ts).time(); !got.Equal(ts) {
			t.Fatalf("stored time %s restored as %s", ts, got)
		}
	}
}

func TestKVStoreFarFutureParamsSurviveRestart(t *testing.T) {
	db := storage.NewMemDB()
	end := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	params := Params{ContributionEnd: end, VoteWindow: time.Hour, QuorumPercent: 50}
	created := end.Add(-30 * time.Minute)
	ctx := context.Background()

	engine, err := Open(NewKVStore(db), params, testAdmin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := engine.Invest(ctx, investorA, big.NewInt(10), created); err != nil {
		t.Fatalf("invest: %v", err)
	}
	id, err := engine.CreateProposal(ctx, investorA, "far", big.NewInt(5), recipient, created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	restored, err := Open(NewKVStore(db), params, testAdmin)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !restored.Params().ContributionEnd.Equal(end) {
		t.Fatalf("contribution end restored as %s", restored.Params().ContributionEnd)
	}
	p, err := restored.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if !p.Deadline.Equal(created.Add(time.Hour)) {
		t.Fatalf("deadline restored as %s", p.Deadline)
	}
	expectKind(t, restored.Execute(ctx, testAdmin, id, created), ErrVotingStillOpen)
}
