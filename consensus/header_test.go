package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smellychain/smellynode/pow"
)

func TestSerializeIsOrderedArrayNotMap(t *testing.T) {
	fields := HeaderFields{
		Version: 1, PrevHash: ZeroHash, MerkleRoot: "abcd", Timestamp: 100,
		Target: "ff", Nonce: 7, MinerAddress: "alice", TxCount: 2,
	}
	b := fields.Serialize()
	require.Equal(t, byte('['), b[0], "serialization must be a JSON array, not an object")
	require.Contains(t, string(b), `["version",1]`)
	require.Contains(t, string(b), `["tx_count",2]`)
}

func TestSerializeIsDeterministicAndOrderSensitive(t *testing.T) {
	a := HeaderFields{Version: 1, PrevHash: "p", MerkleRoot: "m", Timestamp: 1, Target: "t", Nonce: 1, MinerAddress: "a", TxCount: 1}
	b := a
	require.Equal(t, a.Serialize(), b.Serialize())
	require.Equal(t, a.Hash(), b.Hash())

	c := a
	c.Nonce = 2
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestZeroHashLength(t *testing.T) {
	require.Len(t, ZeroHash, 64)
}

func TestCoinbaseTxIDIsStableAndHeightSensitive(t *testing.T) {
	require.Equal(t, CoinbaseTxID(10), CoinbaseTxID(10))
	require.NotEqual(t, CoinbaseTxID(10), CoinbaseTxID(11))
	require.Len(t, CoinbaseTxID(10), 64)
}

func TestFairnessRewardTxIDIsStablePerEpochAndAddr(t *testing.T) {
	a := FairnessRewardTxID(0, 19, "alice")
	require.Equal(t, a, FairnessRewardTxID(0, 19, "alice"))
	require.NotEqual(t, a, FairnessRewardTxID(0, 19, "bob"))
	require.NotEqual(t, a, FairnessRewardTxID(20, 39, "alice"))
}

func TestMerkleRootSingleIsTheTxIDItself(t *testing.T) {
	txid := CoinbaseTxID(1)
	root := MerkleRoot([]string{txid})
	require.Len(t, root, 64)
	require.Equal(t, txid, root)
}

func TestMerkleRootOddLayerDuplicatesLast(t *testing.T) {
	three := MerkleRoot([]string{CoinbaseTxID(1), CoinbaseTxID(2), CoinbaseTxID(3)})
	fourDup := MerkleRoot([]string{CoinbaseTxID(1), CoinbaseTxID(2), CoinbaseTxID(3), CoinbaseTxID(3)})
	require.Equal(t, fourDup, three)
}

func TestMerkleRootEmptyIsContentHashOfEmpty(t *testing.T) {
	require.Len(t, MerkleRoot(nil), 64)
	require.Equal(t, MerkleRoot(nil), MerkleRoot(nil))
	require.Equal(t, pow.ContentHashHex(nil), MerkleRoot(nil))
}

func TestCanonicalTxIDsBelowBootstrapIsCoinbaseOnly(t *testing.T) {
	out := CanonicalTxIDs(150, 200, []string{"aa", "bb"})
	require.Equal(t, []string{CoinbaseTxID(150)}, out)
}

func TestCanonicalTxIDsAtOrAboveBootstrapDedupsAndLeadsWithCoinbase(t *testing.T) {
	cb := CoinbaseTxID(200)
	out := CanonicalTxIDs(200, 200, []string{"AA", "bb", "aa", "bb"})
	require.Equal(t, []string{cb, "aa", "bb"}, out)
}

func TestCanonicalTxIDsPreservesSelectionOrder(t *testing.T) {
	cb := CoinbaseTxID(200)
	out := CanonicalTxIDs(200, 200, []string{"zz", "aa", "mm"})
	require.Equal(t, []string{cb, "zz", "aa", "mm"}, out)
}

func TestBlockRewardHalves(t *testing.T) {
	full := int64(50_00000000)
	require.Equal(t, full, BlockReward(0, full, 210000))
	require.Equal(t, full/2, BlockReward(210000, full, 210000))
	require.Equal(t, full/4, BlockReward(420000, full, 210000))
}

func TestBlockRewardNeverGoesBelowOneMite(t *testing.T) {
	require.Equal(t, int64(1), BlockReward(210000*100, 1, 210000))
}

func TestSplitRewardGivesFinderTheNonPoolShare(t *testing.T) {
	finder := SplitReward(1000, 0.30)
	require.Equal(t, int64(700), finder)
}
