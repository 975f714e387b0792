package treasury

import (
	"math/big"
	"time"
)

// Metrics receives engine instrumentation. Outcome is "ok" or an ErrorKind.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	SetTotals(totalShares, availableFunds *big.Int, proposals uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}

func (noopMetrics) SetTotals(*big.Int, *big.Int, uint64) {}
