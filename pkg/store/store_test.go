package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"bolt": func(t *testing.T) Store {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"), nil)
			require.NoError(t, err)
			return s
		},
	}
}

func TestCommitAssignsGapFreeHeights(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			h, err := s.Height()
			require.NoError(t, err)
			require.Zero(t, h)

			for i := uint64(1); i <= 3; i++ {
				got, err := s.Commit(Batch{Receipt: Receipt{Account: "notifier", Method: "notify_settlement", Logs: []string{"line"}}}, nil)
				require.NoError(t, err)
				require.Equal(t, i, got)
			}

			h, err = s.Height()
			require.NoError(t, err)
			require.Equal(t, uint64(3), h)
		})
	}
}

func TestCommitRejectsExistingAccount(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			_, err := s.Commit(Batch{Account: &Account{ID: "notifier"}, Receipt: Receipt{Account: "notifier", Method: "initialize"}}, nil)
			require.NoError(t, err)

			_, err = s.Commit(Batch{Account: &Account{ID: "notifier"}, Receipt: Receipt{Account: "notifier", Method: "initialize"}}, nil)
			require.ErrorIs(t, err, ErrAccountExists)

			h, err := s.Height()
			require.NoError(t, err)
			require.Equal(t, uint64(1), h)

			acct, ok, err := s.Account("notifier")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, Account{ID: "notifier", DeployedAt: 1}, acct)

			_, ok, err = s.Account("other")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestReceiptsRange(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			hash := func(h uint64) common.Hash { return common.BigToHash(new(big.Int).SetUint64(h)) }
			for _, line := range []string{"a", "b", "c", "d"} {
				_, err := s.Commit(Batch{Receipt: Receipt{Account: "notifier", Logs: []string{line}}}, hash)
				require.NoError(t, err)
			}

			rs, err := s.Receipts(2, 3)
			require.NoError(t, err)
			require.Len(t, rs, 2)
			require.Equal(t, uint64(2), rs[0].Height)
			require.Equal(t, []string{"b"}, rs[0].Logs)
			require.Equal(t, hash(2), rs[0].TxHash)
			require.Equal(t, []string{"c"}, rs[1].Logs)

			rs, err = s.Receipts(0, 100)
			require.NoError(t, err)
			require.Len(t, rs, 4)

			rs, err = s.Receipts(5, 10)
			require.NoError(t, err)
			require.Empty(t, rs)

			rs, err = s.Receipts(3, 2)
			require.NoError(t, err)
			require.Empty(t, rs)
		})
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := NewBoltStore(path, nil)
	require.NoError(t, err)
	_, err = s1.Commit(Batch{Account: &Account{ID: "notifier"}, Receipt: Receipt{Account: "notifier", Method: "initialize"}}, nil)
	require.NoError(t, err)
	_, err = s1.Commit(Batch{Receipt: Receipt{Account: "notifier", Method: "notify_settlement", Logs: []string{"x"}}}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewBoltStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	_, ok, err := s2.Account("notifier")
	require.NoError(t, err)
	require.True(t, ok)

	h, err := s2.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(2), h)

	got, err := s2.Commit(Batch{Receipt: Receipt{Account: "notifier"}}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Height()
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Commit(Batch{}, nil)
	require.ErrorIs(t, err, ErrClosed)
}
