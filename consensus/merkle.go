package consensus

import (
	"encoding/hex"

	"github.com/smellychain/smellynode/pow"
)

// MerkleRoot computes the root over txids (lowercase hex) by pairwise
// content-hash reduction, duplicating the last element of an odd layer,
// until one element remains. An empty list roots to content_hash(empty).
func MerkleRoot(txids []string) string {
	if len(txids) == 0 {
		return pow.ContentHashHex(nil)
	}
	layer := make([][]byte, len(txids))
	for i, t := range txids {
		b, err := hex.DecodeString(t)
		if err != nil {
			b = nil
		}
		layer[i] = b
	}
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([][]byte, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			pair := append(append([]byte{}, layer[i]...), layer[i+1]...)
			h := pow.ContentHash(pair)
			next = append(next, h[:])
		}
		layer = next
	}
	return hex.EncodeToString(layer[0])
}

// CanonicalTxIDs returns the authoritative txid list for a block at height
// H: coinbase first, always. bootstrapHeight is the height below which a
// block's only transaction is its coinbase (callers pass
// chaincfg.Params.BootstrapOnlyBelowHeight). Below it any submitted txids are
// ignored. At or above it, selected is deduplicated (first occurrence wins)
// and reordered so the coinbase leads, but otherwise preserves selection
// order — callers must never sort after this call, or miners computing the
// same merkle independently will disagree.
func CanonicalTxIDs(height uint32, bootstrapHeight uint32, selected []string) []string {
	coinbase := CoinbaseTxID(height)
	if height < bootstrapHeight {
		return []string{coinbase}
	}
	if len(selected) == 0 {
		return []string{coinbase}
	}
	seen := map[string]bool{}
	dedup := make([]string, 0, len(selected))
	for _, t := range selected {
		t = lowerHex(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		dedup = append(dedup, t)
	}
	if len(dedup) > 0 && dedup[0] == coinbase {
		return dedup
	}
	rest := make([]string, 0, len(dedup))
	for _, t := range dedup {
		if t != coinbase {
			rest = append(rest, t)
		}
	}
	return append([]string{coinbase}, rest...)
}

func lowerHex(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
