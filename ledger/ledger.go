// Package ledger implements the UTXO accounting rules: balance queries,
// greedy largest-first coin selection with intra-block reservation, and
// the mutations block append performs.
package ledger

import (
	"fmt"
	"sort"

	"github.com/smellychain/smellynode/store"
)

// Balance sums the amount of every unspent UTXO owned by address.
func Balance(sess *store.Session, address string) (int64, error) {
	utxos, err := sess.UTXOsForAddress(address)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, u := range utxos {
		if !u.Spent {
			total += u.Amount
		}
	}
	return total, nil
}

// Selector tracks UTXOs tentatively reserved during one block-assembly
// session, so a second candidate transaction from the same address cannot
// pick an output already committed to an earlier candidate in this block.
type Selector struct {
	sess     *store.Session
	reserved map[string]bool
}

// NewSelector creates a coin-selection session bound to sess.
func NewSelector(sess *store.Session) *Selector {
	return &Selector{sess: sess, reserved: make(map[string]bool)}
}

// SelectInputs performs greedy largest-first coin selection for address,
// returning enough spendable (mature, unspent, unreserved) UTXOs to cover
// need. tipHeight and maturity gate coinbase spendability (creation height +
// maturity <= tipHeight). Returns ok=false if the address's spendable
// balance, minus already-reserved outputs, falls short of need.
func (sel *Selector) SelectInputs(address string, need int64, tipHeight uint32, maturity uint32) (inputs []store.UTXO, totalIn int64, ok bool, err error) {
	all, err := sel.sess.UTXOsForAddress(address)
	if err != nil {
		return nil, 0, false, err
	}
	var candidates []store.UTXO
	for _, u := range all {
		if u.Spent {
			continue
		}
		key := string(u.Key())
		if sel.reserved[key] {
			continue
		}
		if u.IsCoinbase && tipHeight < u.CreatedHeight+maturity {
			continue
		}
		candidates = append(candidates, u)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Amount > candidates[j].Amount
	})

	var picked []store.UTXO
	var sum int64
	for _, u := range candidates {
		picked = append(picked, u)
		sum += u.Amount
		if sum >= need {
			break
		}
	}
	if sum < need {
		return nil, 0, false, nil
	}
	for _, u := range picked {
		sel.reserved[string(u.Key())] = true
	}
	return picked, sum, true, nil
}

// Reserved reports whether the given (txid, vout) has already been picked
// by this selector, for callers building placeholder change outputs.
func (sel *Selector) Reserved(txid string, vout uint32) bool {
	return sel.reserved[string(store.UTXO{TxID: txid, Vout: vout}.Key())]
}

// SpendInput marks a selected UTXO spent by blockHash.
func SpendInput(sess *store.Session, u store.UTXO, blockHash string) error {
	return sess.MarkUTXOSpent(u.TxID, u.Vout, blockHash)
}

// CreateOutput writes a new spendable UTXO.
func CreateOutput(sess *store.Session, u store.UTXO) error {
	return sess.PutUTXO(u)
}

// RenamePlaceholder rewrites a change UTXO created during assembly under a
// synthetic placeholder txid so it is keyed by the real block hash once the
// block is committed. This is a genuine rename: the placeholder row is
// deleted once the renamed row is written, so the two never coexist as
// distinct spendable UTXOs under the (txid,vout) uniqueness invariant.
func RenamePlaceholder(sess *store.Session, placeholderTxID string, vout uint32, realTxID string) error {
	u, ok, err := sess.GetUTXO(placeholderTxID, vout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ledger: no placeholder utxo %s:%d", placeholderTxID, vout)
	}
	u.TxID = realTxID
	u.Spent = false
	u.SpentByTxID = ""
	if err := sess.PutUTXO(u); err != nil {
		return err
	}
	return sess.DeleteUTXO(placeholderTxID, vout)
}

// PlaceholderTxID is the synthetic txid used for change outputs reserved
// during block assembly, before the block hash is known.
const PlaceholderTxID = "BLOCK_TMP"

// ChangeVout returns a change-output vout number, 10,000,000 + n. It is
// unique within one block as long as each change output passes a distinct
// n; CommitBlock passes the candidate's index in the block.
func ChangeVout(alreadyReserved int) uint32 {
	return 10_000_000 + uint32(alreadyReserved)
}
