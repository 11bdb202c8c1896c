// Package consensus implements the header state machine: serialization and
// hashing, merkle roots, canonical txid ordering, difficulty retargeting,
// header validation, local block assembly and external header acceptance.
package consensus

import (
	"encoding/hex"
	"encoding/json"

	"github.com/smellychain/smellynode/pow"
)

// ZeroHash is the sentinel prev_hash used by genesis.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HeaderFields is the set of values that go into a header's consensus hash,
// independent of how it is eventually persisted (store.Header carries the
// same values plus cumulative_work, which is not itself hashed).
type HeaderFields struct {
	Version      uint32
	PrevHash     string
	MerkleRoot   string
	Timestamp    uint64
	Target       string
	Nonce        uint64
	MinerAddress string
	TxCount      uint32
}

// Serialize returns the exact consensus encoding of h: a compact JSON array
// of [field, value] pairs in the fixed order version, prev_hash,
// merkle_root, timestamp, target, nonce, miner_address, tx_count. Miners,
// pools and the acceptor must all produce identical bytes for the same
// fields — this is why the encoding is an ordered array of pairs rather
// than a map, which would otherwise be re-sorted by key.
func (h HeaderFields) Serialize() []byte {
	pairs := []any{
		[]any{"version", h.Version},
		[]any{"prev_hash", h.PrevHash},
		[]any{"merkle_root", h.MerkleRoot},
		[]any{"timestamp", h.Timestamp},
		[]any{"target", h.Target},
		[]any{"nonce", h.Nonce},
		[]any{"miner_address", h.MinerAddress},
		[]any{"tx_count", h.TxCount},
	}
	b, _ := json.Marshal(pairs)
	return b
}

// Hash returns header_hash = content_hash(Serialize()) as lowercase hex.
func (h HeaderFields) Hash() string {
	return pow.ContentHashHex(h.Serialize())
}

// PrevHashBytes decodes PrevHash into the 32-byte salt used by the PoW
// digest, treating a malformed or empty value as ZeroHash.
func (h HeaderFields) PrevHashBytes() [pow.DigestSize]byte {
	var out [pow.DigestSize]byte
	b, err := hex.DecodeString(h.PrevHash)
	if err != nil || len(b) != pow.DigestSize {
		return out
	}
	copy(out[:], b)
	return out
}

// CoinbaseTxID returns content_hash("COINBASE:{height}") as lowercase hex.
func CoinbaseTxID(height uint32) string {
	return pow.ContentHashHex([]byte("COINBASE:" + uitoa(uint64(height))))
}

// FairnessRewardTxID returns content_hash("FAIRNESS:{start}-{end}:{addr}"),
// the deterministic txid for one miner's epoch-settlement payout.
func FairnessRewardTxID(start, end uint32, addr string) string {
	return pow.ContentHashHex([]byte("FAIRNESS:" + uitoa(uint64(start)) + "-" + uitoa(uint64(end)) + ":" + addr))
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
