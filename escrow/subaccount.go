package escrow

import (
	"encoding/binary"

	"escrowflow/ledger"
)

// SubaccountFor derives the per-job custodial subaccount: the job id encoded
// big-endian into the low-order bytes of a zeroed 32-byte identifier. The
// derivation is stable across restarts and collision-free for distinct ids.
func SubaccountFor(jobID uint64) ledger.Subaccount {
	var sub ledger.Subaccount
	binary.BigEndian.PutUint64(sub[len(sub)-8:], jobID)
	return sub
}
