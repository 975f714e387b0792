package journal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"daotreasury/core/events"
	"daotreasury/native/treasury"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	j, err := New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

type untypedEvent struct{}

func (untypedEvent) EventType() string { return "untyped" }

func TestEmitPersistsEvents(t *testing.T) {
	j := setupJournal(t)
	j.Emit(events.TreasuryInvested{Sequence: 1, Investor: [20]byte{1}, Amount: big.NewInt(5), Balance: big.NewInt(5)})
	j.Emit(events.TreasuryVoted{Sequence: 2, ProposalID: 0, Voter: [20]byte{1}, Weight: big.NewInt(5), Votes: big.NewInt(5)})
	j.Emit(untypedEvent{})

	got, err := j.ListEvents(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, events.TypeTreasuryVoted, got[0].Type)
	require.Equal(t, uint64(2), got[0].Sequence)
	require.Equal(t, "5", got[1].Attributes["amount"])

	filtered, err := j.ListEvents(context.Background(), events.TypeTreasuryInvested, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	limited, err := j.ListEvents(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestVaultRecordsPayouts(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	id := uint64(3)

	ok := j.Vault(nil)
	require.NoError(t, ok.Pay(ctx, treasury.Payout{Sequence: 4, Reason: treasury.PayoutProposal, ProposalID: &id, Recipient: [20]byte{9}, Amount: big.NewInt(7)}))

	boom := errors.New("bounced")
	failing := j.Vault(treasury.FuncVault(func(context.Context, treasury.Payout) error { return boom }))
	err := failing.Pay(ctx, treasury.Payout{Sequence: 5, Reason: treasury.PayoutRedeem, Recipient: [20]byte{8}, Amount: big.NewInt(2)})
	require.ErrorIs(t, err, boom)

	all, err := j.ListPayouts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, PayoutFailed, all[0].Status)
	require.Equal(t, "bounced", all[0].Error)
	require.Nil(t, all[0].ProposalID)
	require.Equal(t, PayoutPaid, all[1].Status)
	require.Equal(t, uint64(3), *all[1].ProposalID)
	require.Equal(t, "7", all[1].Amount)

	paid, err := j.ListPayouts(ctx, "paid", 10)
	require.NoError(t, err)
	require.Len(t, paid, 1)
}

func TestJournalFollowsEngine(t *testing.T) {
	j := setupJournal(t)
	params := treasury.Params{ContributionEnd: testEnd, VoteWindow: testWindow, QuorumPercent: 50}
	engine, err := treasury.NewEngine(params, [20]byte{0xAD})
	require.NoError(t, err)
	engine.SetEmitter(j)
	engine.SetVault(j.Vault(nil))

	ctx := context.Background()
	investor := [20]byte{0x01}
	require.NoError(t, engine.Invest(ctx, investor, big.NewInt(10), testEnd.Add(-testWindow)))
	require.NoError(t, engine.Redeem(ctx, investor, big.NewInt(4)))

	evts, err := j.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	require.Equal(t, events.TypeTreasuryRedeemed, evts[0].Type)

	payouts, err := j.ListPayouts(ctx, PayoutPaid, 10)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, "redeem", payouts[0].Reason)
}

func TestDialector(t *testing.T) {
	_, isPostgres := Dialector("postgres://user@localhost/db").(*postgres.Dialector)
	require.True(t, isPostgres)
	_, isPostgres = Dialector(" PostgreSQL://user@localhost/db").(*postgres.Dialector)
	require.True(t, isPostgres)
	_, isSQLite := Dialector("journal.db").(*sqlite.Dialector)
	require.True(t, isSQLite)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(" ", nil)
	require.Error(t, err)
	_, err = New(nil, nil)
	require.Error(t, err)
}

var (
	testEnd    = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	testWindow = time.Hour
)
