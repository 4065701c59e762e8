package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingEnv struct {
	lines []string
}

func (e *recordingEnv) Log(line string) {
	e.lines = append(e.lines, line)
}

func TestNotifySettlementEmitsSingleLine(t *testing.T) {
	n, err := Initialize(false)
	require.NoError(t, err)

	env := &recordingEnv{}
	n.NotifySettlement(env, "intent-42", "ethereum", "USDC", "0xabc123")

	require.Equal(t, []string{
		"INTENT_SETTLED intent_id=intent-42 dest=ethereum/USDC txid=0xabc123",
	}, env.lines)
}

func TestInitializeTwiceFails(t *testing.T) {
	n, err := Initialize(true)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.Nil(t, n)
}

func TestNotifySettlementDoesNotDeduplicate(t *testing.T) {
	n, err := Initialize(false)
	require.NoError(t, err)

	env := &recordingEnv{}
	n.NotifySettlement(env, "intent-1", "near", "wNEAR", "tx")
	n.NotifySettlement(env, "intent-1", "near", "wNEAR", "tx")

	require.Len(t, env.lines, 2)
	require.Equal(t, env.lines[0], env.lines[1])
}

func TestNotifySettlementAcceptsOpaqueValues(t *testing.T) {
	n, err := Initialize(false)
	require.NoError(t, err)

	env := &recordingEnv{}
	n.NotifySettlement(env, "", "", "", "")
	n.NotifySettlement(env, "ünïcode id", "zcash", "ZEC/shielded", "tx 1")

	require.Equal(t, "INTENT_SETTLED intent_id= dest=/ txid=", env.lines[0])
	require.Equal(t, "INTENT_SETTLED intent_id=ünïcode id dest=zcash/ZEC/shielded txid=tx 1", env.lines[1])
}

func TestCanonicalMethod(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"initialize", MethodInitialize, true},
		{"new", MethodInitialize, true},
		{"notify_settlement", MethodNotifySettlement, true},
		{"on_intent_settled", MethodNotifySettlement, true},
		{"withdraw", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := CanonicalMethod(tc.name)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
