package consensus

import (
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

// ValidateHeader checks a candidate header against prev (nil for genesis):
// version, link, non-decreasing timestamp, PoW target, and tx_count >= 1.
func ValidateHeader(fields HeaderFields, prev *store.Header, chainVersion uint32, backend pow.Backend) *coreerr.Error {
	if fields.Version != chainVersion {
		return coreerr.Newf(coreerr.InvalidVersion, "header version %d, chain version %d", fields.Version, chainVersion)
	}
	if prev != nil {
		if fields.PrevHash != prev.Hash {
			return coreerr.New(coreerr.PrevLinkMismatch, "prev_hash does not match stored predecessor")
		}
		if fields.Timestamp < prev.Timestamp {
			return coreerr.New(coreerr.TimestampDecreased, "timestamp decreased relative to prev")
		}
	}
	target, err := pow.ParseTargetHex(fields.Target)
	if err != nil {
		return coreerr.Newf(coreerr.PowTargetNotMet, "bad target encoding: %v", err)
	}
	digest := backend.Digest(fields.Serialize(), fields.Nonce, fields.PrevHashBytes())
	if !pow.MeetsTarget(digest, target) {
		return coreerr.New(coreerr.PowTargetNotMet, "digest exceeds target")
	}
	if fields.TxCount < 1 {
		return coreerr.New(coreerr.MissingCoinbase, "tx_count must be >= 1")
	}
	return nil
}
