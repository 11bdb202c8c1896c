package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

// mineExternal mines fields in-process, standing in for an outside miner
// (a real submitter would do the same work against a job snapshot).
func mineExternal(t *testing.T, backend pow.Backend, fields HeaderFields, targetBytes [32]byte) (HeaderFields, uint64) {
	t.Helper()
	for nonce := uint64(0); nonce < 200000; nonce++ {
		fields.Nonce = nonce
		digest := backend.Digest(fields.Serialize(), nonce, fields.PrevHashBytes())
		if pow.MeetsTarget(digest, targetBytes) {
			return fields, nonce
		}
	}
	t.Fatal("no external solution found")
	return fields, 0
}

func TestAcceptExternalHeaderAppendsGenesis(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	backend := testBackend()

	txids := CanonicalTxIDs(0, params.BootstrapOnlyBelowHeight, nil)
	merkle := MerkleRoot(txids)
	target := pow.TargetFromDifficultyHex(1)
	targetBytes, _ := pow.ParseTargetHex(target)

	fields := HeaderFields{Version: params.BlockVersion, PrevHash: ZeroHash, MerkleRoot: merkle, Timestamp: 1000, Target: target, MinerAddress: "ext", TxCount: uint32(len(txids))}
	mined, nonce := mineExternal(t, backend, fields, targetBytes)

	err := s.Update(func(sess *store.Session) error {
		res, aerr := AcceptExternalHeader(sess, params, backend, ExternalHeader{
			PrevHash: ZeroHash, Version: mined.Version, Timestamp: mined.Timestamp, Target: target,
			Nonce: nonce, MinerAddress: "ext", TxIDsSnapshot: nil, SubmittedMerkle: merkle,
		})
		require.Nil(t, aerr)
		require.Equal(t, uint32(0), res.Header.Height)
		require.False(t, res.WasGraceAccept)
		return nil
	})
	require.NoError(t, err)
}

func TestAcceptExternalHeaderRejectsMerkleMismatch(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	params.BootstrapOnlyBelowHeight = 0 // force the submitted-vs-rebuilt merkle check at height 0
	backend := testBackend()

	target := pow.TargetFromDifficultyHex(1)
	targetBytes, _ := pow.ParseTargetHex(target)
	fields := HeaderFields{Version: params.BlockVersion, PrevHash: ZeroHash, MerkleRoot: "wrong", Timestamp: 1000, Target: target, MinerAddress: "ext", TxCount: 1}
	mined, nonce := mineExternal(t, backend, fields, targetBytes)

	err := s.Update(func(sess *store.Session) error {
		_, aerr := AcceptExternalHeader(sess, params, backend, ExternalHeader{
			PrevHash: ZeroHash, Version: mined.Version, Timestamp: mined.Timestamp, Target: target,
			Nonce: nonce, MinerAddress: "ext", TxIDsSnapshot: nil, SubmittedMerkle: "0000",
		})
		require.NotNil(t, aerr)
		require.Equal(t, "merkle-mismatch", string(aerr.Kind))
		return nil
	})
	require.NoError(t, err)
}

func TestAcceptExternalHeaderRejectsStalePrev(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	backend := testBackend()

	// Commit a real genesis first via local assembly.
	require.NoError(t, s.Update(func(sess *store.Session) error {
		_, aerr := AssembleAndMine(sess, params, backend, "m1", nil)
		require.Nil(t, aerr)
		return nil
	}))

	target := pow.TargetFromDifficultyHex(1)
	targetBytes, _ := pow.ParseTargetHex(target)
	txids := CanonicalTxIDs(1, params.BootstrapOnlyBelowHeight, nil)
	merkle := MerkleRoot(txids)
	fields := HeaderFields{Version: params.BlockVersion, PrevHash: "totally-not-the-tip", MerkleRoot: merkle, Timestamp: 2000, Target: target, MinerAddress: "ext", TxCount: uint32(len(txids))}
	mined, nonce := mineExternal(t, backend, fields, targetBytes)

	err := s.Update(func(sess *store.Session) error {
		_, aerr := AcceptExternalHeader(sess, params, backend, ExternalHeader{
			PrevHash: "totally-not-the-tip", Version: mined.Version, Timestamp: mined.Timestamp, Target: target,
			Nonce: nonce, MinerAddress: "ext", TxIDsSnapshot: nil, SubmittedMerkle: merkle,
		})
		require.NotNil(t, aerr)
		require.Equal(t, "stale-prev", string(aerr.Kind))
		return nil
	})
	require.NoError(t, err)
}

func TestAcceptExternalHeaderGraceAcceptsSamePrevAsPreviousTip(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	backend := testBackend()

	// Build two blocks locally: height 0 (genesis) and height 1 (current tip).
	require.NoError(t, s.Update(func(sess *store.Session) error {
		_, aerr := AssembleAndMine(sess, params, backend, "m1", nil)
		require.Nil(t, aerr)
		return nil
	}))
	var genesisHash string
	require.NoError(t, s.View(func(sess *store.Session) error {
		h, _, _ := sess.GetHeaderByHeight(0)
		genesisHash = h.Hash
		return nil
	}))
	require.NoError(t, s.Update(func(sess *store.Session) error {
		_, aerr := AssembleAndMine(sess, params, backend, "m1", nil)
		require.Nil(t, aerr)
		return nil
	}))

	// Now submit an external header whose prev is genesis (the *previous*
	// tip, height 0), not the current tip (height 1). It is accepted under
	// the grace rule and lands at height 1 with a different hash: PutHeader
	// repoints the height-1 index and the tip at it, and the locally mined
	// height-1 header stays stored but is no longer indexed (single tip, no
	// reorg). This models same-prev resubmission after the tip advanced by
	// exactly one block, e.g. a pool whose job rotated while an in-flight
	// share still references the prior prev_hash.
	target := pow.TargetFromDifficultyHex(1)
	targetBytes, _ := pow.ParseTargetHex(target)
	txids := CanonicalTxIDs(1, params.BootstrapOnlyBelowHeight, nil)
	merkle := MerkleRoot(txids)
	fields := HeaderFields{Version: params.BlockVersion, PrevHash: genesisHash, MerkleRoot: merkle, Timestamp: uint64(time.Now().Unix()) + 1000, Target: target, MinerAddress: "ext", TxCount: uint32(len(txids))}
	mined, nonce := mineExternal(t, backend, fields, targetBytes)

	err := s.Update(func(sess *store.Session) error {
		res, aerr := AcceptExternalHeader(sess, params, backend, ExternalHeader{
			PrevHash: genesisHash, Version: mined.Version, Timestamp: mined.Timestamp, Target: target,
			Nonce: nonce, MinerAddress: "ext", TxIDsSnapshot: nil, SubmittedMerkle: merkle,
		})
		require.Nil(t, aerr)
		require.True(t, res.WasGraceAccept)
		require.Equal(t, uint32(1), res.Header.Height)
		return nil
	})
	require.NoError(t, err)
}
