// Package txn defines the wire transaction shape, its canonical digest and
// signature verification. txid = content hash of the canonical JSON with
// any signature field stripped, so it comes out identical across miners,
// pools and the acceptor.
package txn

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/smellychain/smellynode/pow"
)

// Input references a prior output by (txid, vout) and authorizes the spend
// with an Ed25519 signature over the transaction's canonical digest.
type Input struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Address string `json:"address"`
	PubKey  string `json:"pubkey"` // hex, 32 bytes
	Sig     string `json:"sig"`    // hex, 64 bytes
}

// Output pays amount (decimal coin units, JSON boundary only) to address.
type Output struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

// Tx is the wire transaction. Timestamp is milliseconds since epoch, set by
// the submitter; it is not validated against wall-clock time by the core.
type Tx struct {
	Version   int      `json:"version"`
	Inputs    []Input  `json:"inputs"`
	Outputs   []Output `json:"outputs"`
	Fee       float64  `json:"fee"`
	Timestamp int64    `json:"timestamp"`
}

// CanonicalBytes returns the canonical JSON used both for signing and for
// txid derivation: sorted keys, compact separators, any "sig"/"signatures"
// field removed. encoding/json sorts map[string]any keys lexicographically
// at every nesting level and never inserts whitespace, so building the
// canonical form as nested maps (rather than structs, whose field order
// would have to be kept in alphabetical sync by hand) gives the "sorted
// keys + compact separators" rule for free and can't drift out of order
// under future edits.
func (tx Tx) CanonicalBytes() []byte {
	ins := make([]any, len(tx.Inputs))
	for i, in := range tx.Inputs {
		ins[i] = map[string]any{
			"txid":    in.TxID,
			"vout":    in.Vout,
			"address": in.Address,
			"pubkey":  in.PubKey,
		}
	}
	outs := make([]any, len(tx.Outputs))
	for i, o := range tx.Outputs {
		outs[i] = map[string]any{"address": o.Address, "amount": o.Amount}
	}
	m := map[string]any{
		"version":   tx.Version,
		"inputs":    ins,
		"outputs":   outs,
		"fee":       tx.Fee,
		"timestamp": tx.Timestamp,
	}
	b, _ := json.Marshal(m)
	return b
}

// Digest returns canonical_tx_digest(tx): content_hash of CanonicalBytes.
func (tx Tx) Digest() [pow.DigestSize]byte {
	return pow.ContentHash(tx.CanonicalBytes())
}

// TxID is Digest() as lowercase hex.
func (tx Tx) TxID() string {
	d := tx.Digest()
	return hex.EncodeToString(d[:])
}

// VerifyInputSignature checks the Ed25519 signature on one input over the
// transaction's canonical digest.
func VerifyInputSignature(tx Tx, in Input) error {
	pub, err := hex.DecodeString(in.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("bad pubkey")
	}
	sig, err := hex.DecodeString(in.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("bad signature encoding")
	}
	digest := tx.Digest()
	if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// SumOutputsMites returns the sum of all output amounts converted to mites
// via the caller-supplied conversion (callers pass chaincfg.ToMites).
func SumOutputsMites(tx Tx, toMites func(float64) int64) int64 {
	var total int64
	for _, o := range tx.Outputs {
		total += toMites(o.Amount)
	}
	return total
}
