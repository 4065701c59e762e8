package listener

import (
	"context"
	"fmt"
	"time"

	"intent-notifier/pkg/settlement"
	"intent-notifier/pkg/store"

	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBufferSize   = 10
)

// LedgerSource is the read side of the hosting ledger.
type LedgerSource interface {
	Height(ctx context.Context) (uint64, error)
	Receipts(ctx context.Context, from, to uint64) ([]store.Receipt, error)
}

type Options struct {
	// Account restricts events to one notifier account. Empty follows all.
	Account string
	// Sync replays the ledger from FromHeight before following new receipts.
	// Without it only receipts committed after Start are delivered.
	Sync         bool
	FromHeight   uint64
	PollInterval time.Duration
	BufferSize   int
}

type Listener struct {
	source       LedgerSource
	account      string
	sync         bool
	fromHeight   uint64
	pollInterval time.Duration
	bufferSize   int
	DoneChan     chan struct{}
	EventChan    chan IntentSettledEvent
}

func NewListener(source LedgerSource, opts *Options) *Listener {
	if opts == nil {
		opts = &Options{}
	}
	l := &Listener{
		source:       source,
		account:      opts.Account,
		sync:         opts.Sync,
		fromHeight:   opts.FromHeight,
		pollInterval: opts.PollInterval,
		bufferSize:   opts.BufferSize,
	}
	if l.pollInterval <= 0 {
		l.pollInterval = defaultPollInterval
	}
	if l.bufferSize <= 0 {
		l.bufferSize = defaultBufferSize
	}
	if l.fromHeight == 0 {
		l.fromHeight = 1
	}
	return l
}

// Start follows the ledger until ctx is done. Events are delivered in ledger
// order; a failed fetch is retried from the same height on the next tick.
func (l *Listener) Start(ctx context.Context) (<-chan struct{}, <-chan IntentSettledEvent) {
	l.DoneChan = make(chan struct{})
	l.EventChan = make(chan IntentSettledEvent, l.bufferSize)

	go func() {
		defer close(l.DoneChan)
		defer close(l.EventChan)

		ticker := time.NewTicker(l.pollInterval)
		defer ticker.Stop()

		// Receipts up to this height have been handled
		var (
			heightHandled uint64
			positioned    bool
		)
		if l.sync {
			heightHandled = l.fromHeight - 1
			positioned = true
			log.Info().Uint64("from_height", l.fromHeight).Msg("listener syncing settlement notices")
		}

		for {
			if !positioned {
				current, err := l.source.Height(ctx)
				if err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("failed to obtain ledger height, retrying")
				} else {
					heightHandled = current
					positioned = true
				}
			} else {
				handled, err := l.poll(ctx, heightHandled)
				if err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msgf("failed to fetch receipts after height %d, retrying", heightHandled)
				}
				heightHandled = handled
			}

			select {
			case <-ctx.Done():
				log.Info().Msg("listener shutting down")
				return
			case <-ticker.C:
			}
		}
	}()
	return l.DoneChan, l.EventChan
}

// poll delivers every notice committed after handled and returns the new
// handled height.
func (l *Listener) poll(ctx context.Context, handled uint64) (uint64, error) {
	current, err := l.source.Height(ctx)
	if err != nil {
		return handled, fmt.Errorf("failed to obtain ledger height: %w", err)
	}
	if current <= handled {
		return handled, nil
	}
	receipts, err := l.source.Receipts(ctx, handled+1, current)
	if err != nil {
		return handled, fmt.Errorf("failed to fetch receipts %d..%d: %w", handled+1, current, err)
	}
	log.Debug().Msgf("Fetched %d receipts from height %d to %d", len(receipts), handled+1, current)

	for _, r := range receipts {
		if l.account == "" || r.Account == l.account {
			for i, line := range r.Logs {
				notice, ok := settlement.ParseNotice(line)
				if !ok {
					continue
				}
				event := IntentSettledEvent{
					Notice:  notice,
					Account: r.Account,
					Height:  r.Height,
					TxHash:  r.TxHash,
					Index:   i,
				}
				log.Info().
					Str("intent_id", notice.IntentID).
					Str("dest", notice.DestChain+"/"+notice.DestAsset).
					Uint64("height", r.Height).
					Msg("settlement notice seen by listener")
				select {
				case l.EventChan <- event:
				case <-ctx.Done():
					return r.Height - 1, ctx.Err()
				}
			}
		}
	}
	return current, nil
}
