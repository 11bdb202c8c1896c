package consensus

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/holiman/uint256"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/ledger"
	"github.com/smellychain/smellynode/mempool"
	"github.com/smellychain/smellynode/store"
	"github.com/smellychain/smellynode/txn"
)

// Candidate is one mempool transaction accepted into a block under
// construction, together with the UTXOs it reserves.
type Candidate struct {
	Entry        store.MempoolEntry
	Used         []store.UTXO
	ChangeAmount int64
}

// BuildResult is the outcome of candidate selection: the ordered txids to
// feed the merkle root, the reserving candidates, and their total fees.
type BuildResult struct {
	TxIDs      []string
	Candidates []Candidate
	TotalFees  int64
}

// SelectCandidates orders pending transactions by fee, then greedily
// selects spendable inputs for each,
// excluding UTXOs already reserved earlier in this same build. It mutates
// no store state — reservations live only in a ledger.Selector local to
// this call — so a failed mining attempt needs no ledger rollback; only
// CommitBlock, called after a nonce is found, writes anything.
func SelectCandidates(sess *store.Session, params *chaincfg.Params, tipHeight uint32) (BuildResult, error) {
	entries, err := mempool.SelectForBlock(sess, params.TxsPerBlockCap*4)
	if err != nil {
		return BuildResult{}, err
	}

	sel := ledger.NewSelector(sess)
	var res BuildResult
	for _, e := range entries {
		if len(res.Candidates) >= params.TxsPerBlockCap {
			break
		}
		confirmed, err := sess.TxConfirmed(e.TxID)
		if err != nil {
			return res, err
		}
		if confirmed {
			continue
		}
		var tx txn.Tx
		if jsonErr := json.Unmarshal(e.Raw, &tx); jsonErr != nil || len(tx.Inputs) == 0 {
			continue
		}
		if e.FromAddr == "" || e.ToAddr == "" || e.Amount <= 0 || e.Fee < params.MempoolMinFee {
			continue
		}
		need := e.Amount + e.Fee
		used, totalIn, ok, err := sel.SelectInputs(e.FromAddr, need, tipHeight, params.CoinbaseMaturity)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		res.Candidates = append(res.Candidates, Candidate{Entry: e, Used: used, ChangeAmount: totalIn - need})
		res.TxIDs = append(res.TxIDs, e.TxID)
		res.TotalFees += e.Fee
	}
	return res, nil
}

// CommitBlock persists a mined or externally-accepted header and every
// mutation it implies: header insert, coinbase reward + UTXO, spend
// marking, recipient and change UTXOs (change
// via the placeholder-then-rename sequence so a block's own hash, only
// known once its fields are finalized, is threaded through the same path
// local mining and external acceptance share), tx confirmation, and mempool
// cleanup. Callers run this inside one store.Update transaction so the
// whole set lands atomically.
func CommitBlock(sess *store.Session, h store.Header, minerAddress string, rewardMites int64, build BuildResult) error {
	if err := sess.PutHeader(h); err != nil {
		return err
	}

	coinbaseTxID := CoinbaseTxID(h.Height)
	if err := sess.PutReward(store.Reward{
		Height: h.Height, MinerAddress: minerAddress, Amount: rewardMites,
		CoinbaseTxID: coinbaseTxID, CreatedAtMs: nowMs(),
	}); err != nil {
		return err
	}
	if _, ok, err := sess.GetUTXO(coinbaseTxID, 0); err != nil {
		return err
	} else if !ok {
		if err := sess.PutUTXO(store.UTXO{
			TxID: coinbaseTxID, Vout: 0, Address: minerAddress, Amount: rewardMites,
			IsCoinbase: true, CreatedHeight: h.Height,
		}); err != nil {
			return err
		}
	}

	for i, c := range build.Candidates {
		for _, u := range c.Used {
			if err := ledger.SpendInput(sess, u, h.Hash); err != nil {
				return err
			}
		}
		if err := ledger.CreateOutput(sess, store.UTXO{
			TxID: c.Entry.TxID, Vout: 0, Address: c.Entry.ToAddr, Amount: c.Entry.Amount,
			CreatedHeight: h.Height,
		}); err != nil {
			return err
		}
		if c.ChangeAmount > 0 {
			vout := ledger.ChangeVout(i)
			if err := ledger.CreateOutput(sess, store.UTXO{
				TxID: ledger.PlaceholderTxID, Vout: vout, Address: c.Entry.FromAddr, Amount: c.ChangeAmount,
				CreatedHeight: h.Height,
			}); err != nil {
				return err
			}
			if err := ledger.RenamePlaceholder(sess, ledger.PlaceholderTxID, vout, h.Hash); err != nil {
				return err
			}
		}
		if err := sess.ConfirmTx(c.Entry.TxID, h.Hash); err != nil {
			return err
		}
		if err := sess.DeleteMempoolEntry(c.Entry.TxID); err != nil {
			return err
		}
	}
	return nil
}

// addCumulativeWork returns prevWorkHex (a 64-char big-endian hex integer)
// plus diff, re-encoded the same way.
func addCumulativeWork(prevWorkHex string, diff uint64) string {
	prev := new(uint256.Int)
	if b, err := hex.DecodeString(prevWorkHex); err == nil && len(b) > 0 {
		prev.SetBytes(b)
	}
	sum := new(uint256.Int).AddUint64(prev, diff)
	var out [32]byte
	sum.WriteToArray32(&out)
	return hex.EncodeToString(out[:])
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
