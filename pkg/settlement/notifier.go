package settlement

import (
	"errors"
)

const (
	MethodInitialize       = "initialize"
	MethodNotifySettlement = "notify_settlement"
)

var (
	// ErrAlreadyInitialized is the InitializationError returned when the
	// hosting account already holds an initialized notifier.
	ErrAlreadyInitialized = errors.New("notifier already initialized")
	// ErrSerialization is returned when call arguments cannot be decoded
	// into the expected string fields.
	ErrSerialization = errors.New("failed to deserialize call arguments")
)

// methodAliases maps the entrypoint names exposed by earlier deployments
// onto the current ones.
var methodAliases = map[string]string{
	MethodInitialize:       MethodInitialize,
	MethodNotifySettlement: MethodNotifySettlement,
	"new":                  MethodInitialize,
	"on_intent_settled":    MethodNotifySettlement,
}

// CanonicalMethod resolves an entrypoint name, including legacy aliases.
func CanonicalMethod(name string) (string, bool) {
	m, ok := methodAliases[name]
	return m, ok
}

// Env is the write-only event channel provided by the hosting runtime.
type Env interface {
	Log(line string)
}

// Notifier is the deployed instance. It carries no state: holding one means
// the hosting account has been initialized.
type Notifier struct{}

// Initialize creates the instance. initialized reports whether the hosting
// account already holds one.
func Initialize(initialized bool) (*Notifier, error) {
	if initialized {
		return nil, ErrAlreadyInitialized
	}
	return &Notifier{}, nil
}

// NotifySettlement emits exactly one settlement notice. Arguments are opaque
// and accepted as-is; callers are not authorized and notices are not
// deduplicated.
func (n *Notifier) NotifySettlement(env Env, intentID, destChain, destAsset, txid string) {
	env.Log(Notice{
		IntentID:  intentID,
		DestChain: destChain,
		DestAsset: destAsset,
		TxID:      txid,
	}.String())
}
