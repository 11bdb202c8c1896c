package consensus

import (
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/mempool"
	"github.com/smellychain/smellynode/store"
	"github.com/smellychain/smellynode/txn"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chain.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fastParams() *chaincfg.Params {
	p := chaincfg.Default()
	p.Argon2 = chaincfg.Argon2Params{TimeCost: 1, MemoryMiB: 8, Parallelism: 1}
	p.MiningAttemptCap = 2_000_000
	return p
}

func signedSpend(priv ed25519.PrivateKey, addr string, utxo store.UTXO, outAddr string, outAmount, fee float64) txn.Tx {
	pub := priv.Public().(ed25519.PublicKey)
	tx := txn.Tx{
		Version: 1,
		Inputs: []txn.Input{{
			TxID: utxo.TxID, Vout: utxo.Vout, Address: addr, PubKey: hex.EncodeToString(pub),
		}},
		Outputs:   []txn.Output{{Address: outAddr, Amount: outAmount}},
		Fee:       fee,
		Timestamp: 1700000000000,
	}
	digest := tx.Digest()
	sig := ed25519.Sign(priv, digest[:])
	tx.Inputs[0].Sig = hex.EncodeToString(sig)
	return tx
}

func TestAssembleAndMineGenesisProducesCoinbaseOnlyBlock(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	backend := testBackend()

	var header *store.Header
	err := s.Update(func(sess *store.Session) error {
		h, aerr := AssembleAndMine(sess, params, backend, "miner1", nil)
		require.Nil(t, aerr)
		header = h
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint32(0), header.Height)
	require.Equal(t, uint32(1), header.TxCount)
	require.Equal(t, MerkleRoot([]string{CoinbaseTxID(0)}), header.MerkleRoot)
}

func TestAssembleAndMineChainsTenBlocks(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	backend := testBackend()

	var lastHash string
	for i := 0; i < 10; i++ {
		err := s.Update(func(sess *store.Session) error {
			h, aerr := AssembleAndMine(sess, params, backend, "miner1", nil)
			require.Nil(t, aerr)
			require.Equal(t, uint32(i), h.Height)
			if i > 0 {
				require.Equal(t, lastHash, h.PrevHash)
			}
			lastHash = h.Hash
			return nil
		})
		require.NoError(t, err)
	}

	err := s.View(func(sess *store.Session) error {
		tip, ok, terr := sess.Tip()
		require.NoError(t, terr)
		require.True(t, ok)
		require.Equal(t, uint32(9), tip.Height)
		bal, berr := ledgerBalance(sess, "miner1")
		require.NoError(t, berr)
		require.Equal(t, 10*params.InitialBlockReward, bal)
		return nil
	})
	require.NoError(t, err)
}

func TestAssembleAndMineIncludesPendingTransfer(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()
	params.BootstrapOnlyBelowHeight = 0 // allow mempool inclusion from genesis
	backend := testBackend()

	pubA, privA, _ := ed25519.GenerateKey(nil)
	addrA := hex.EncodeToString(pubA)

	require.NoError(t, s.Update(func(sess *store.Session) error {
		return sess.PutUTXO(store.UTXO{TxID: "seed", Vout: 0, Address: addrA, Amount: chaincfg.ToMites(100)})
	}))

	require.NoError(t, s.Update(func(sess *store.Session) error {
		utxo, _, _ := sess.GetUTXO("seed", 0)
		lowFee := signedSpend(privA, addrA, utxo, "bob", 5, 0.001)
		_, admitErr := mempool.Admit(sess, params, 0, lowFee)
		require.Nil(t, admitErr)
		return nil
	}))

	err := s.Update(func(sess *store.Session) error {
		h, aerr := AssembleAndMine(sess, params, backend, "miner1", nil)
		require.Nil(t, aerr)
		require.Equal(t, uint32(2), h.TxCount) // coinbase + the one transfer
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(sess *store.Session) error {
		all, aerr := sess.AllMempoolEntries()
		require.NoError(t, aerr)
		require.Len(t, all, 0, "included tx must be purged from the mempool")
		return nil
	})
	require.NoError(t, err)
}

func TestPrepareJobMatchesLocalAssemblyTxIDs(t *testing.T) {
	s := openTestStore(t)
	params := fastParams()

	err := s.View(func(sess *store.Session) error {
		snap, perr := PrepareJob(sess, params)
		require.NoError(t, perr)
		require.Equal(t, uint32(0), snap.Height)
		require.Equal(t, ZeroHash, snap.PrevHash)
		require.Equal(t, []string{CoinbaseTxID(0)}, snap.TxIDsSnapshot)
		return nil
	})
	require.NoError(t, err)
}

func ledgerBalance(sess *store.Session, addr string) (int64, error) {
	var total int64
	err := sess.ForEachUTXO(func(u store.UTXO) error {
		if u.Address == addr && !u.Spent {
			total += u.Amount
		}
		return nil
	})
	return total, err
}
