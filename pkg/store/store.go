package store

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAccountExists is returned when a batch tries to record an account
	// that has already been deployed.
	ErrAccountExists = errors.New("account already exists")
	ErrClosed        = errors.New("store closed")
)

// Account records that a notifier instance has been initialized on it.
type Account struct {
	ID         string `json:"id"`
	DeployedAt uint64 `json:"deployed_at"`
}

// Receipt is the ledger entry for one successful call. Heights start at 1 and
// are assigned by the store without gaps.
type Receipt struct {
	Height    uint64      `json:"height"`
	TxHash    common.Hash `json:"tx_hash"`
	Account   string      `json:"account"`
	Method    string      `json:"method"`
	Logs      []string    `json:"logs"`
	Timestamp int64       `json:"timestamp"`
}

// Batch is applied atomically. Account is optional.
type Batch struct {
	Account *Account
	Receipt Receipt
}

type Store interface {
	// Account returns the account record if the account has been deployed.
	Account(id string) (Account, bool, error)
	// Commit applies the batch and returns the height assigned to its receipt.
	// HashFn, when set, is called with the assigned height to fill in the
	// receipt's tx hash before it is stored.
	Commit(b Batch, hashFn func(height uint64) common.Hash) (uint64, error)
	// Receipts returns receipts with heights in [from, to], in height order.
	Receipts(from, to uint64) ([]Receipt, error)
	Height() (uint64, error)
	Close() error
}
