package listener

import (
	"intent-notifier/pkg/settlement"

	"github.com/ethereum/go-ethereum/common"
)

// IntentSettledEvent is a settlement notice together with where it was
// committed on the ledger.
type IntentSettledEvent struct {
	settlement.Notice
	Account string
	Height  uint64
	TxHash  common.Hash
	// Index is the position of the notice among the receipt's logs.
	Index int
}
