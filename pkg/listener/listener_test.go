package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"intent-notifier/pkg/host"
	"intent-notifier/pkg/settlement"
	"intent-notifier/pkg/store"

	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, accounts ...string) *host.Runtime {
	rt, err := host.NewRuntime(&host.Options{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	for _, a := range accounts {
		_, err := rt.Initialize(context.Background(), a)
		require.NoError(t, err)
	}
	return rt
}

func notify(t *testing.T, rt *host.Runtime, account string, n settlement.Notice) {
	input, err := settlement.JSONCodec{}.Encode(n)
	require.NoError(t, err)
	_, err = rt.NotifySettlement(context.Background(), account, input)
	require.NoError(t, err)
}

func receive(t *testing.T, events <-chan IntentSettledEvent) IntentSettledEvent {
	select {
	case e, ok := <-events:
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return IntentSettledEvent{}
}

func TestListenerSyncDeliversInLedgerOrder(t *testing.T) {
	rt := newRuntime(t, "a.notifier", "b.notifier")
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "c1", DestChain: "ethereum", DestAsset: "USDC", TxID: "0x1"})
	notify(t, rt, "b.notifier", settlement.Notice{IntentID: "other", DestChain: "near", DestAsset: "wNEAR", TxID: "x"})
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "c2", DestChain: "zcash", DestAsset: "ZEC", TxID: "0x2"})

	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(rt, &Options{Account: "a.notifier", Sync: true, PollInterval: 10 * time.Millisecond})
	done, events := l.Start(ctx)

	e1 := receive(t, events)
	e2 := receive(t, events)
	require.Equal(t, "c1", e1.IntentID)
	require.Equal(t, uint64(3), e1.Height)
	require.Equal(t, "a.notifier", e1.Account)
	require.Equal(t, "c2", e2.IntentID)
	require.Equal(t, settlement.Notice{IntentID: "c2", DestChain: "zcash", DestAsset: "ZEC", TxID: "0x2"}, e2.Notice)
	require.Less(t, e1.Height, e2.Height)

	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "c3"})
	require.Equal(t, "c3", receive(t, events).IntentID)

	cancel()
	<-done
}

func TestListenerWithoutSyncSkipsHistory(t *testing.T) {
	rt := newRuntime(t, "a.notifier")
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "old"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewListener(rt, &Options{PollInterval: 10 * time.Millisecond})
	_, events := l.Start(ctx)

	// Give the listener a tick to position itself at the current height.
	time.Sleep(50 * time.Millisecond)
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "new"})
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "new"})

	e1 := receive(t, events)
	e2 := receive(t, events)
	require.Equal(t, "new", e1.IntentID)
	require.Equal(t, "new", e2.IntentID)
	require.NotEqual(t, e1.TxHash, e2.TxHash)
}

func TestListenerFromHeight(t *testing.T) {
	rt := newRuntime(t, "a.notifier")
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "h2"})
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "h3"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewListener(rt, &Options{Sync: true, FromHeight: 3, PollInterval: 10 * time.Millisecond})
	_, events := l.Start(ctx)

	require.Equal(t, "h3", receive(t, events).IntentID)
}

type flakySource struct {
	LedgerSource
	mu       sync.Mutex
	failures int
}

func (f *flakySource) Receipts(ctx context.Context, from, to uint64) ([]store.Receipt, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("ledger unavailable")
	}
	f.mu.Unlock()
	return f.LedgerSource.Receipts(ctx, from, to)
}

func TestListenerRetriesSameRangeAfterError(t *testing.T) {
	rt := newRuntime(t, "a.notifier")
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "first"})
	notify(t, rt, "a.notifier", settlement.Notice{IntentID: "second"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewListener(&flakySource{LedgerSource: rt, failures: 2}, &Options{Sync: true, PollInterval: 10 * time.Millisecond})
	_, events := l.Start(ctx)

	require.Equal(t, "first", receive(t, events).IntentID)
	require.Equal(t, "second", receive(t, events).IntentID)
}

func TestListenerClosesChannelsOnCancel(t *testing.T) {
	rt := newRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(rt, &Options{PollInterval: 10 * time.Millisecond})
	done, events := l.Start(ctx)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	_, ok := <-events
	require.False(t, ok)
}
