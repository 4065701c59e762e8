package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccounts = []byte("accounts")
	bucketReceipts = []byte("receipts")
)

// BoltStore persists the ledger in a BoltDB file. Receipts are keyed by
// big-endian height, so cursor order is ledger order.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketReceipts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Account(id string) (Account, bool, error) {
	var (
		acct  Account
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &acct)
	})
	if err != nil {
		return Account{}, false, s.mapErr(err)
	}
	return acct, found, nil
}

func (s *BoltStore) Commit(b Batch, hashFn func(height uint64) common.Hash) (uint64, error) {
	var height uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		next, err := receipts.NextSequence()
		if err != nil {
			return err
		}

		if b.Account != nil {
			accounts := tx.Bucket(bucketAccounts)
			key := []byte(b.Account.ID)
			if accounts.Get(key) != nil {
				return ErrAccountExists
			}
			acct := *b.Account
			acct.DeployedAt = next
			encoded, err := json.Marshal(acct)
			if err != nil {
				return err
			}
			if err := accounts.Put(key, encoded); err != nil {
				return err
			}
		}

		r := b.Receipt
		r.Height = next
		if hashFn != nil {
			r.TxHash = hashFn(next)
		}
		encoded, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := receipts.Put(heightKey(next), encoded); err != nil {
			return err
		}
		height = next
		return nil
	})
	if err != nil {
		return 0, s.mapErr(err)
	}
	return height, nil
}

func (s *BoltStore) Receipts(from, to uint64) ([]Receipt, error) {
	if from == 0 {
		from = 1
	}
	if from > to {
		return nil, nil
	}
	var out []Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReceipts).Cursor()
		for k, v := c.Seek(heightKey(from)); k != nil; k, v = c.Next() {
			if binary.BigEndian.Uint64(k) > to {
				break
			}
			var r Receipt
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode receipt %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

func (s *BoltStore) Height() (uint64, error) {
	var height uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		height = tx.Bucket(bucketReceipts).Sequence()
		return nil
	})
	if err != nil {
		return 0, s.mapErr(err)
	}
	return height, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) mapErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func heightKey(h uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, h)
	return key
}
