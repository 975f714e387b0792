package treasury

import (
	"context"
	"math/big"
	"math/rand"
	"testing"
	"time"
)

func checkLedgerInvariants(t *testing.T, l *Ledger) {
	t.Helper()
	sum := big.NewInt(0)
	for addr, bal := range l.balances {
		if bal.Sign() <= 0 {
			t.Fatalf("non-positive balance %s stored for %x", bal, addr)
		}
		sum.Add(sum, bal)
	}
	if sum.Cmp(l.totalShares) != 0 {
		t.Fatalf("total shares %s != sum of balances %s", l.totalShares, sum)
	}
	if l.availableFunds.Sign() < 0 {
		t.Fatalf("available funds negative: %s", l.availableFunds)
	}
	net := new(big.Int).Sub(l.stats.Invested, l.stats.Redeemed)
	net.Sub(net, l.stats.Disbursed)
	if net.Cmp(l.availableFunds) != 0 {
		t.Fatalf("available funds %s != invested - redeemed - disbursed %s", l.availableFunds, net)
	}
	disbursed := big.NewInt(0)
	for _, p := range l.proposals {
		if p.Executed {
			disbursed.Add(disbursed, p.Amount)
		}
	}
	if disbursed.Cmp(l.stats.Disbursed) != 0 {
		t.Fatalf("disbursed %s does not match executed proposals %s", l.stats.Disbursed, disbursed)
	}
}

func TestLedgerInvariantsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	accounts := [][20]byte{investorA, investorB, newTestAddress(0x0C), newTestAddress(0x0D)}
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		engine, _ := newTestEngine(t, uint64(rng.Intn(101)))
		engine.SetVault(FuncVault(func(context.Context, Payout) error {
			if rng.Intn(5) == 0 {
				return errPayoutRefused
			}
			return nil
		}))
		now := testStart
		for step := 0; step < 200; step++ {
			who := accounts[rng.Intn(len(accounts))]
			amount := big.NewInt(int64(rng.Intn(20)))
			now = now.Add(time.Duration(rng.Intn(90)) * time.Second)
			switch rng.Intn(6) {
			case 0:
				_ = engine.Invest(ctx, who, amount, now)
			case 1:
				_ = engine.Redeem(ctx, who, amount)
			case 2:
				_ = engine.Transfer(ctx, who, amount, accounts[rng.Intn(len(accounts))])
			case 3:
				_, _ = engine.CreateProposal(ctx, who, "p", amount, recipient, now)
			case 4:
				if n := engine.ProposalCount(); n > 0 {
					_ = engine.Vote(ctx, who, uint64(rng.Intn(int(n))), now)
				}
			case 5:
				if n := engine.ProposalCount(); n > 0 {
					_ = engine.Execute(ctx, testAdmin, uint64(rng.Intn(int(n))), now)
				}
			}
			checkLedgerInvariants(t, engine.ledger)
		}
	}
}

var errPayoutRefused = &Error{Kind: "test", Message: "refused"}

func TestApplyRejectsOutOfOrderChangeset(t *testing.T) {
	l, err := NewLedger(testParams(50), testAdmin)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	first, err := l.planInvest(investorA, big.NewInt(1), testStart)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	stale, _ := l.planInvest(investorB, big.NewInt(1), testStart)
	if err := l.Apply(first); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := l.Apply(stale); err == nil {
		t.Fatalf("expected stale changeset to be rejected")
	}
	expectInt(t, "balance B", l.Balance(investorB), 0)
}

func TestPlanningDoesNotMutate(t *testing.T) {
	l, _ := NewLedger(testParams(0), testAdmin)
	cs, _ := l.planInvest(investorA, big.NewInt(10), testStart)
	if err := l.Apply(cs); err != nil {
		t.Fatalf("apply: %v", err)
	}
	before := l.Summary()
	if _, _, err := l.planRedeem(investorA, big.NewInt(4)); err != nil {
		t.Fatalf("plan redeem: %v", err)
	}
	if _, err := l.planCreateProposal(investorA, "x", big.NewInt(4), recipient, testStart); err != nil {
		t.Fatalf("plan proposal: %v", err)
	}
	after := l.Summary()
	if after.TotalShares.Cmp(before.TotalShares) != 0 || after.AvailableFunds.Cmp(before.AvailableFunds) != 0 || after.ProposalCount != 0 {
		t.Fatalf("planning mutated ledger: %+v -> %+v", before, after)
	}
	expectInt(t, "balance A", l.Balance(investorA), 10)
}

func TestTurnoutTruncates(t *testing.T) {
	cases := []struct {
		votes, total int64
		want         int64
	}{
		{1, 2, 50},
		{1, 3, 33},
		{2, 3, 66},
		{0, 5, 0},
		{3, 0, 0},
		{4, 2, 200},
	}
	for _, tc := range cases {
		got := turnout(big.NewInt(tc.votes), big.NewInt(tc.total))
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("turnout(%d, %d) = %s, want %d", tc.votes, tc.total, got, tc.want)
		}
	}
}
