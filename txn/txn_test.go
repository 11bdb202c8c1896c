package txn

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxIDStableAndExcludesSignature(t *testing.T) {
	tx := Tx{
		Version: 1,
		Inputs: []Input{
			{TxID: "aa", Vout: 0, Address: "A", PubKey: "pk"},
		},
		Outputs:   []Output{{Address: "B", Amount: 1.5}},
		Fee:       0.01,
		Timestamp: 1000,
	}
	id1 := tx.TxID()

	tx.Inputs[0].Sig = "deadbeef"
	id2 := tx.TxID()

	require.Equal(t, id1, id2, "txid must not change when only the signature field changes")
	require.Len(t, id1, 64)
}

func TestTxIDChangesWithContent(t *testing.T) {
	tx := Tx{Version: 1, Outputs: []Output{{Address: "B", Amount: 1}}, Fee: 0.01, Timestamp: 1}
	id1 := tx.TxID()
	tx.Outputs[0].Amount = 2
	id2 := tx.TxID()
	require.NotEqual(t, id1, id2)
}

func TestVerifyInputSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := Tx{
		Version: 1,
		Inputs: []Input{
			{TxID: "aa", Vout: 0, Address: "A", PubKey: hex.EncodeToString(pub)},
		},
		Outputs:   []Output{{Address: "B", Amount: 1}},
		Fee:       0.01,
		Timestamp: 1,
	}
	digest := tx.Digest()
	sig := ed25519.Sign(priv, digest[:])
	tx.Inputs[0].Sig = hex.EncodeToString(sig)

	require.NoError(t, VerifyInputSignature(tx, tx.Inputs[0]))

	tampered := tx
	tampered.Fee = 99
	require.Error(t, VerifyInputSignature(tampered, tampered.Inputs[0]))
}

func TestVerifyInputSignatureRejectsMalformedHex(t *testing.T) {
	tx := Tx{Version: 1}
	in := Input{PubKey: "zz", Sig: "zz"}
	require.Error(t, VerifyInputSignature(tx, in))
}

func TestSumOutputsMites(t *testing.T) {
	tx := Tx{Outputs: []Output{{Amount: 1}, {Amount: 2.5}}}
	total := SumOutputsMites(tx, func(f float64) int64 { return int64(f * 1e8) })
	require.Equal(t, int64(3.5*1e8), total)
}
