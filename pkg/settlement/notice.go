package settlement

import (
	"fmt"
	"strings"
)

const (
	noticeMarker = "INTENT_SETTLED"
	intentKey    = " intent_id="
	destKey      = " dest="
	txidKey      = " txid="
)

// Notice is a single settlement record as emitted to the event stream.
type Notice struct {
	IntentID  string `json:"intent_id"`
	DestChain string `json:"dest_chain"`
	DestAsset string `json:"dest_asset"`
	TxID      string `json:"txid"`
}

// String renders the notice in the line format consumed by indexers.
func (n Notice) String() string {
	return fmt.Sprintf("%s intent_id=%s dest=%s/%s txid=%s",
		noticeMarker, n.IntentID, n.DestChain, n.DestAsset, n.TxID)
}

// ParseNotice reads a line produced by Notice.String. Lines that do not carry
// the INTENT_SETTLED marker are not notices. Field values containing the
// " dest=" or " txid=" keys cannot be split unambiguously; the last
// occurrence of each key wins.
func ParseNotice(line string) (Notice, bool) {
	rest, ok := strings.CutPrefix(line, noticeMarker+intentKey)
	if !ok {
		return Notice{}, false
	}

	txIdx := strings.LastIndex(rest, txidKey)
	if txIdx < 0 {
		return Notice{}, false
	}
	head, txid := rest[:txIdx], rest[txIdx+len(txidKey):]

	destIdx := strings.LastIndex(head, destKey)
	if destIdx < 0 {
		return Notice{}, false
	}
	intentID, dest := head[:destIdx], head[destIdx+len(destKey):]

	chain, asset, ok := strings.Cut(dest, "/")
	if !ok {
		return Notice{}, false
	}

	return Notice{
		IntentID:  intentID,
		DestChain: chain,
		DestAsset: asset,
		TxID:      txid,
	}, true
}
