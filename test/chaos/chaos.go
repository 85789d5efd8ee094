package chaos

import (
	"context"
	"math/rand"
	"time"

	"escrowflow/ledger"
)

// FaultLedger periodically queues transient failures on the simulated ledger
// so actors exercise their retry paths.
func FaultLedger(ctx context.Context, sim *ledger.Sim, stop <-chan struct{}) {
	codes := []ledger.ErrorCode{
		ledger.CodeUnavailable,
		ledger.CodeGeneric,
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(3) == 0 {
				sim.FailNext(codes[rand.Intn(len(codes))])
			}
		}
	}
}
