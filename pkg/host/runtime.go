package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"intent-notifier/pkg/settlement"
	"intent-notifier/pkg/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrNotInitialized is returned when notify_settlement is dispatched to an
	// account that does not hold a notifier instance.
	ErrNotInitialized = errors.New("notifier not initialized")
	ErrUnknownMethod  = errors.New("unknown method")
	ErrEmptyAccount   = errors.New("account id is required")
)

type Options struct {
	Store store.Store
	// Codec decodes notify_settlement arguments. Defaults to JSON.
	Codec settlement.Codec
	// Registerer receives the runtime's metrics. Metrics are still collected
	// when nil, just not exported.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Runtime hosts notifier instances on top of a ledger store. All calls are
// serialized into a single total order; each call either commits exactly one
// receipt or leaves the ledger untouched.
type Runtime struct {
	mu      sync.Mutex
	store   store.Store
	codec   settlement.Codec
	metrics *metrics
	now     func() time.Time
}

func NewRuntime(opts *Options) (*Runtime, error) {
	if opts == nil || opts.Store == nil {
		return nil, errors.New("store is required")
	}
	codec := opts.Codec
	if codec == nil {
		codec = settlement.JSONCodec{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return &Runtime{
		store:   opts.Store,
		codec:   codec,
		metrics: m,
		now:     now,
	}, nil
}

func (r *Runtime) Codec() settlement.Codec {
	return r.codec
}

func (r *Runtime) Initialize(ctx context.Context, account string) (store.Receipt, error) {
	return r.Call(ctx, account, settlement.MethodInitialize, nil)
}

func (r *Runtime) NotifySettlement(ctx context.Context, account string, input []byte) (store.Receipt, error) {
	return r.Call(ctx, account, settlement.MethodNotifySettlement, input)
}

// Call dispatches method on the account's notifier. A context that is already
// done rejects the call; once dispatched, a call runs to completion.
func (r *Runtime) Call(ctx context.Context, account, method string, input []byte) (store.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return store.Receipt{}, err
	}
	if account == "" {
		return store.Receipt{}, ErrEmptyAccount
	}
	canonical, ok := settlement.CanonicalMethod(method)
	if !ok {
		r.metrics.observe("unknown", outcomeRejected)
		return store.Receipt{}, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		receipt store.Receipt
		err     error
	)
	switch canonical {
	case settlement.MethodInitialize:
		receipt, err = r.initialize(account, input)
	case settlement.MethodNotifySettlement:
		receipt, err = r.notifySettlement(account, input)
	}
	r.metrics.observe(canonical, outcome(err))
	if err != nil {
		log.Debug().Err(err).Str("account", account).Str("method", canonical).Msg("call rejected")
		return store.Receipt{}, err
	}
	log.Debug().
		Str("account", account).
		Str("method", canonical).
		Uint64("height", receipt.Height).
		Str("tx_hash", receipt.TxHash.Hex()).
		Msg("call committed")
	return receipt, nil
}

func (r *Runtime) initialize(account string, input []byte) (store.Receipt, error) {
	_, found, err := r.store.Account(account)
	if err != nil {
		return store.Receipt{}, fmt.Errorf("failed to load account %s: %w", account, err)
	}
	if _, err := settlement.Initialize(found); err != nil {
		return store.Receipt{}, err
	}
	receipt := store.Receipt{
		Account:   account,
		Method:    settlement.MethodInitialize,
		Timestamp: r.now().Unix(),
	}
	return r.commit(&store.Account{ID: account}, receipt, input)
}

func (r *Runtime) notifySettlement(account string, input []byte) (store.Receipt, error) {
	_, found, err := r.store.Account(account)
	if err != nil {
		return store.Receipt{}, fmt.Errorf("failed to load account %s: %w", account, err)
	}
	if !found {
		return store.Receipt{}, ErrNotInitialized
	}
	args, err := r.codec.Decode(input)
	if err != nil {
		return store.Receipt{}, err
	}

	// The instance carries no state, so restoring it is its zero value.
	notifier := &settlement.Notifier{}
	env := &eventBuffer{}
	notifier.NotifySettlement(env, args.IntentID, args.DestChain, args.DestAsset, args.TxID)

	receipt := store.Receipt{
		Account:   account,
		Method:    settlement.MethodNotifySettlement,
		Logs:      env.lines,
		Timestamp: r.now().Unix(),
	}
	receipt, err = r.commit(nil, receipt, input)
	if err != nil {
		return store.Receipt{}, err
	}
	r.metrics.notices.Add(float64(len(receipt.Logs)))
	return receipt, nil
}

func (r *Runtime) commit(acct *store.Account, receipt store.Receipt, input []byte) (store.Receipt, error) {
	height, err := r.store.Commit(store.Batch{Account: acct, Receipt: receipt}, func(height uint64) common.Hash {
		return txHash(height, receipt.Account, receipt.Method, input)
	})
	if errors.Is(err, store.ErrAccountExists) {
		// Another process sharing the ledger initialized the account first.
		return store.Receipt{}, settlement.ErrAlreadyInitialized
	}
	if err != nil {
		return store.Receipt{}, fmt.Errorf("failed to commit receipt: %w", err)
	}
	receipt.Height = height
	receipt.TxHash = txHash(height, receipt.Account, receipt.Method, input)
	return receipt, nil
}

func (r *Runtime) Initialized(ctx context.Context, account string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, found, err := r.store.Account(account)
	return found, err
}

func (r *Runtime) Height(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.store.Height()
}

// Receipts returns committed receipts with heights in [from, to].
func (r *Runtime) Receipts(ctx context.Context, from, to uint64) ([]store.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.store.Receipts(from, to)
}

type eventBuffer struct {
	lines []string
}

func (b *eventBuffer) Log(line string) {
	b.lines = append(b.lines, line)
}

func txHash(height uint64, account, method string, input []byte) common.Hash {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	hash := sha3.NewLegacyKeccak256()
	hash.Write(h[:])
	hash.Write([]byte(account))
	hash.Write([]byte{0})
	hash.Write([]byte(method))
	hash.Write([]byte{0})
	hash.Write(input)
	return common.BytesToHash(hash.Sum(nil))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, settlement.ErrAlreadyInitialized),
		errors.Is(err, settlement.ErrSerialization),
		errors.Is(err, ErrNotInitialized):
		return outcomeRejected
	default:
		return outcomeError
	}
}
