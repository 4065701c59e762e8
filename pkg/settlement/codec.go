package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	CodecJSON = "json"
	CodecABI  = "abi"
)

// Codec is the calling convention used to carry notify_settlement arguments.
type Codec interface {
	Name() string
	Encode(n Notice) ([]byte, error)
	Decode(input []byte) (Notice, error)
}

func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecABI:
		return ABICodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", name)
	}
}

// JSONCodec carries arguments as a JSON object keyed by argument name.
// Missing keys decode as empty strings.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Encode(n Notice) ([]byte, error) {
	return json.Marshal(n)
}

func (JSONCodec) Decode(input []byte) (Notice, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Notice{}, fmt.Errorf("%w: expected a JSON object", ErrSerialization)
	}
	// encoding/json substitutes U+FFFD for invalid bytes instead of failing.
	if !utf8.Valid(trimmed) {
		return Notice{}, fmt.Errorf("%w: input is not valid UTF-8", ErrSerialization)
	}
	var n Notice
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return Notice{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := checkUTF8(n); err != nil {
		return Notice{}, err
	}
	return n, nil
}

func checkUTF8(n Notice) error {
	for _, f := range []struct{ name, value string }{
		{"intent_id", n.IntentID},
		{"dest_chain", n.DestChain},
		{"dest_asset", n.DestAsset},
		{"txid", n.TxID},
	} {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrSerialization, f.name)
		}
	}
	return nil
}

var (
	notifySelector = crypto.Keccak256([]byte("notify_settlement(string,string,string,string)"))[:4]
	noticeArgs     = abi.Arguments{
		{Name: "intentId", Type: mustType("string")},
		{Name: "destChain", Type: mustType("string")},
		{Name: "destAsset", Type: mustType("string")},
		{Name: "txid", Type: mustType("string")},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ABICodec carries arguments as Ethereum ABI encoded calldata for
// notify_settlement(string,string,string,string). Encoded calldata is prefixed
// with the method selector; the prefix is optional on decode.
type ABICodec struct{}

func (ABICodec) Name() string { return CodecABI }

func (ABICodec) Encode(n Notice) ([]byte, error) {
	packed, err := noticeArgs.Pack(n.IntentID, n.DestChain, n.DestAsset, n.TxID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack notice: %w", err)
	}
	return append(append([]byte{}, notifySelector...), packed...), nil
}

func (ABICodec) Decode(input []byte) (Notice, error) {
	if len(input) >= 4 && bytes.Equal(input[:4], notifySelector) {
		input = input[4:]
	}
	values, err := noticeArgs.Unpack(input)
	if err != nil {
		return Notice{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	fields := make([]string, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return Notice{}, fmt.Errorf("%w: argument %d is not a string", ErrSerialization, i)
		}
		fields[i] = s
	}
	n := Notice{
		IntentID:  fields[0],
		DestChain: fields[1],
		DestAsset: fields[2],
		TxID:      fields[3],
	}
	if err := checkUTF8(n); err != nil {
		return Notice{}, err
	}
	return n, nil
}

// Selector returns the 4-byte method selector prepended by ABICodec.
func Selector() []byte {
	return append([]byte{}, notifySelector...)
}
