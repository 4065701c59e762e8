package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intent-notifier/pkg/host"
	"intent-notifier/pkg/settlement"
	"intent-notifier/pkg/store"

	"github.com/rs/zerolog/log"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 5 * time.Second
)

// Result reports the outcome of submitting one settlement notice.
type Result struct {
	Notice   settlement.Notice
	Receipt  store.Receipt
	Attempts int
	Err      error
}

type Submitter interface {
	NotifySettlement(ctx context.Context, account string, input []byte) (store.Receipt, error)
}

type Options struct {
	Account     string
	Codec       settlement.Codec
	MaxAttempts int
	RetryDelay  time.Duration
	// Results, when set, receives one Result per settlement.
	Results chan<- Result
}

// Executor submits notify_settlement calls for completed settlements it
// receives. The notifier never retries, so transient submission failures are
// retried here.
type Executor struct {
	submitter   Submitter
	account     string
	codec       settlement.Codec
	maxAttempts int
	retryDelay  time.Duration
	results     chan<- Result
	eventChan   <-chan settlement.Notice
}

func NewExecutor(submitter Submitter, eventChan <-chan settlement.Notice, opts *Options) *Executor {
	if opts == nil {
		opts = &Options{}
	}
	e := &Executor{
		submitter:   submitter,
		account:     opts.Account,
		codec:       opts.Codec,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		results:     opts.Results,
		eventChan:   eventChan,
	}
	if e.codec == nil {
		e.codec = settlement.JSONCodec{}
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.retryDelay <= 0 {
		e.retryDelay = defaultRetryDelay
	}
	return e
}

// Start drains the settlement channel until it is closed or ctx is done.
func (e *Executor) Start(ctx context.Context) <-chan struct{} {
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("executor shutting down")
				return
			case s, ok := <-e.eventChan:
				if !ok {
					log.Info().Msg("settlement channel closed, executor exiting")
					return
				}
				res := e.submit(ctx, s)
				if e.results != nil {
					select {
					case e.results <- res:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return doneChan
}

func (e *Executor) submit(ctx context.Context, s settlement.Notice) Result {
	res := Result{Notice: s}
	input, err := e.codec.Encode(s)
	if err != nil {
		res.Err = fmt.Errorf("failed to encode settlement: %w", err)
		log.Error().Err(res.Err).Str("intent_id", s.IntentID).Msg("settlement notice not submitted")
		return res
	}

	for res.Attempts < e.maxAttempts {
		res.Attempts++
		res.Receipt, res.Err = e.submitter.NotifySettlement(ctx, e.account, input)
		if res.Err == nil {
			log.Info().
				Str("intent_id", s.IntentID).
				Uint64("height", res.Receipt.Height).
				Str("tx_hash", res.Receipt.TxHash.Hex()).
				Msg("settlement notice committed")
			return res
		}
		if permanent(res.Err) {
			break
		}
		log.Warn().Err(res.Err).Msgf("Attempt %d/%d: failed to submit notice for intent %s",
			res.Attempts, e.maxAttempts, s.IntentID)
		if res.Attempts == e.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			res.Err = errors.Join(res.Err, ctx.Err())
			return res
		case <-time.After(e.retryDelay):
		}
	}
	log.Error().Err(res.Err).Str("intent_id", s.IntentID).Msg("settlement notice not submitted")
	return res
}

func permanent(err error) bool {
	return errors.Is(err, settlement.ErrSerialization) ||
		errors.Is(err, host.ErrNotInitialized) ||
		errors.Is(err, host.ErrUnknownMethod) ||
		errors.Is(err, host.ErrEmptyAccount) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
