package store

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	receipts []Receipt
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) Account(id string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Account{}, false, ErrClosed
	}
	acct, ok := s.accounts[id]
	return acct, ok, nil
}

func (s *MemoryStore) Commit(b Batch, hashFn func(height uint64) common.Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	height := uint64(len(s.receipts)) + 1
	if b.Account != nil {
		if _, ok := s.accounts[b.Account.ID]; ok {
			return 0, ErrAccountExists
		}
		acct := *b.Account
		acct.DeployedAt = height
		s.accounts[acct.ID] = acct
	}
	r := b.Receipt
	r.Height = height
	r.Logs = append([]string(nil), b.Receipt.Logs...)
	if hashFn != nil {
		r.TxHash = hashFn(height)
	}
	s.receipts = append(s.receipts, r)
	return height, nil
}

func (s *MemoryStore) Receipts(from, to uint64) ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if from == 0 {
		from = 1
	}
	if to > uint64(len(s.receipts)) {
		to = uint64(len(s.receipts))
	}
	if from > to {
		return nil, nil
	}
	out := make([]Receipt, 0, to-from+1)
	for _, r := range s.receipts[from-1 : to] {
		r.Logs = append([]string(nil), r.Logs...)
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Height() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return uint64(len(s.receipts)), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
