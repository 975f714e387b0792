package treasury

import "context"

// Vault moves value out of the treasury. Pay is only invoked after the ledger
// has committed the debit, and it may call back into the engine.
type Vault interface {
	Pay(ctx context.Context, payout Payout) error
}

// FuncVault adapts a callback to the Vault interface. A nil callback accepts
// every payout.
type FuncVault func(ctx context.Context, payout Payout) error

// Pay delegates to the callback.
func (f FuncVault) Pay(ctx context.Context, payout Payout) error {
	if f == nil {
		return nil
	}
	return f(ctx, payout)
}

type noopVault struct{}

func (noopVault) Pay(context.Context, Payout) error { return nil }
