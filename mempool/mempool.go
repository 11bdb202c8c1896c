// Package mempool implements the fee-ranked pending-transaction pool and
// its admission pipeline.
package mempool

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/store"
	"github.com/smellychain/smellynode/txn"
)

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Admit runs the full validation pipeline and, on success, inserts (or
// returns the existing) mempool entry. A resubmission of an
// already-pending transaction is idempotent: it returns the existing entry
// and no error, per the "duplicate-submit suppression" rule.
func Admit(sess *store.Session, params *chaincfg.Params, tipHeight uint32, tx txn.Tx) (store.MempoolEntry, *coreerr.Error) {
	// 1. schema
	if tx.Version != 1 {
		return store.MempoolEntry{}, coreerr.New(coreerr.BadVersion, "version must be 1")
	}
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return store.MempoolEntry{}, coreerr.New(coreerr.MissingIO, "at least one input and one output required")
	}
	for _, o := range tx.Outputs {
		if o.Address == "" {
			return store.MempoolEntry{}, coreerr.New(coreerr.BadOutput, "output address required")
		}
		if o.Amount <= 0 {
			return store.MempoolEntry{}, coreerr.New(coreerr.BadOutputAmt, "output amount must be > 0")
		}
	}
	feeMites := chaincfg.ToMites(tx.Fee)
	if feeMites < params.MempoolMinFee {
		return store.MempoolEntry{}, coreerr.Newf(coreerr.FeeTooLow, "fee %d below minimum %d", feeMites, params.MempoolMinFee)
	}

	// 2. txid + dedup
	txid := tx.TxID()
	if existing, ok, err := sess.GetMempoolEntry(txid); err == nil && ok {
		return existing, nil
	}
	if confirmed, err := sess.TxConfirmed(txid); err == nil && confirmed {
		return store.MempoolEntry{}, coreerr.New(coreerr.UTXOMissingOrSpent, "transaction already confirmed")
	}

	// 3/4. inputs resolve to existing, unspent, mature UTXOs
	var totalIn int64
	for _, in := range tx.Inputs {
		if in.TxID == "" {
			return store.MempoolEntry{}, coreerr.New(coreerr.BadInput, "missing input txid")
		}
		u, ok, err := sess.GetUTXO(in.TxID, in.Vout)
		if err != nil {
			return store.MempoolEntry{}, coreerr.Newf(coreerr.BadInputRef, "store error: %v", err)
		}
		if !ok {
			return store.MempoolEntry{}, coreerr.Newf(coreerr.BadInputRef, "no such utxo %s:%d", in.TxID, in.Vout)
		}
		if u.Spent {
			return store.MempoolEntry{}, coreerr.New(coreerr.UTXOMissingOrSpent, "utxo already spent")
		}
		if u.IsCoinbase && tipHeight < u.CreatedHeight+params.CoinbaseMaturity {
			return store.MempoolEntry{}, coreerr.Newf(coreerr.CoinbaseImmature, "coinbase matures at height %d, tip is %d", u.CreatedHeight+params.CoinbaseMaturity, tipHeight)
		}
		totalIn += u.Amount
	}

	// 5. signatures
	for _, in := range tx.Inputs {
		if in.PubKey == "" || in.Sig == "" {
			return store.MempoolEntry{}, coreerr.New(coreerr.MissingSig, "missing pubkey or signature")
		}
		if err := txn.VerifyInputSignature(tx, in); err != nil {
			return store.MempoolEntry{}, coreerr.Newf(coreerr.BadSignature, "%v", err)
		}
	}

	// 6. balance
	totalOut := txn.SumOutputsMites(tx, chaincfg.ToMites)
	if totalIn < totalOut+feeMites {
		return store.MempoolEntry{}, coreerr.Newf(coreerr.InsufficientInput, "have %d need %d", totalIn, totalOut+feeMites)
	}

	// 7. intra-mempool double spend
	conflict, err := referencesExistingInput(sess, tx)
	if err != nil {
		return store.MempoolEntry{}, coreerr.Newf(coreerr.IntraMempoolDoubleSp, "store error: %v", err)
	}
	if conflict {
		return store.MempoolEntry{}, coreerr.New(coreerr.IntraMempoolDoubleSp, "another pending transaction spends the same input")
	}

	raw, _ := json.Marshal(tx)
	entry := store.MempoolEntry{
		TxID:      txid,
		Raw:       raw,
		Fee:       feeMites,
		AddedAtMs: nowMs(),
		FromAddr:  tx.Inputs[0].Address,
		ToAddr:    tx.Outputs[0].Address,
		Amount:    chaincfg.ToMites(tx.Outputs[0].Amount),
	}
	if err := sess.PutMempoolEntry(entry); err != nil {
		return store.MempoolEntry{}, coreerr.Newf(coreerr.BadFormat, "store error: %v", err)
	}
	return entry, nil
}

// referencesExistingInput reports whether any pending transaction already
// claims one of tx's (ref_txid, vout) inputs.
func referencesExistingInput(sess *store.Session, tx txn.Tx) (bool, error) {
	wanted := make(map[string]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		wanted[outpointKey(in.TxID, in.Vout)] = true
	}
	conflict := false
	err := sess.ForEachMempoolEntry(func(e store.MempoolEntry) error {
		var other txn.Tx
		if jsonErr := json.Unmarshal(e.Raw, &other); jsonErr != nil {
			return nil
		}
		for _, in := range other.Inputs {
			if wanted[outpointKey(in.TxID, in.Vout)] {
				conflict = true
			}
		}
		return nil
	})
	return conflict, err
}

func outpointKey(txid string, vout uint32) string {
	return txid + ":" + itoaUint32(vout)
}

func itoaUint32(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Entry is an alias of store.MempoolEntry, the element type Query and
// SelectForBlock return.
type Entry = store.MempoolEntry

// Query returns mempool entries ordered by fee descending, then
// added_at_ms ascending, optionally filtered to one address (matching
// either side of the transfer).
func Query(sess *store.Session, addr string) ([]Entry, error) {
	all, err := sess.AllMempoolEntries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if addr == "" || e.FromAddr == addr || e.ToAddr == addr {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fee != out[j].Fee {
			return out[i].Fee > out[j].Fee
		}
		return out[i].AddedAtMs < out[j].AddedAtMs
	})
	return out, nil
}

// SelectForBlock returns up to cap entries ordered by fee desc, added_at_ms
// asc, ready for block assembly to attempt inclusion.
func SelectForBlock(sess *store.Session, cap int) ([]Entry, error) {
	ordered, err := Query(sess, "")
	if err != nil {
		return nil, err
	}
	if len(ordered) > cap {
		ordered = ordered[:cap]
	}
	return ordered, nil
}

// PurgeConfirmed removes any mempool entry whose txid is already confirmed
// (a maintenance pass; normal block append already deletes confirmed
// entries inline).
func PurgeConfirmed(sess *store.Session) (int, error) {
	all, err := sess.AllMempoolEntries()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range all {
		confirmed, err := sess.TxConfirmed(e.TxID)
		if err != nil {
			return n, err
		}
		if confirmed {
			if err := sess.DeleteMempoolEntry(e.TxID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// PurgeUnspendable removes entries older than minAgeMs whose declared input
// no longer resolves to a spendable UTXO (e.g. the input was spent by a
// competing confirmed transaction). This is maintenance, not part of the
// consensus-critical admission path.
func PurgeUnspendable(sess *store.Session, nowMs, minAgeMs int64) (int, error) {
	all, err := sess.AllMempoolEntries()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range all {
		if nowMs-e.AddedAtMs < minAgeMs {
			continue
		}
		var tx txn.Tx
		if jsonErr := json.Unmarshal(e.Raw, &tx); jsonErr != nil {
			continue
		}
		stillSpendable := true
		for _, in := range tx.Inputs {
			u, ok, err := sess.GetUTXO(in.TxID, in.Vout)
			if err != nil {
				return n, err
			}
			if !ok || u.Spent {
				stillSpendable = false
				break
			}
		}
		if !stillSpendable {
			if err := sess.DeleteMempoolEntry(e.TxID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
