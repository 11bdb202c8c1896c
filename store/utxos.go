package store

import (
	"encoding/json"
	"fmt"
)

func utxoKey(txid string, vout uint32) []byte {
	return []byte(fmt.Sprintf("%s:%d", txid, vout))
}

// PutUTXO inserts or overwrites a UTXO row (idempotent w.r.t. (txid,vout)).
func (s *Session) PutUTXO(u UTXO) error {
	return putJSON(s.bucket(bucketUTXOs), u.Key(), u)
}

// GetUTXO fetches a single UTXO by (txid, vout).
func (s *Session) GetUTXO(txid string, vout uint32) (UTXO, bool, error) {
	var u UTXO
	ok, err := getJSON(s.bucket(bucketUTXOs), utxoKey(txid, vout), &u)
	return u, ok, err
}

// DeleteUTXO removes a UTXO row outright. Used to drop a placeholder row
// once its renamed successor has been written, so the two never coexist.
func (s *Session) DeleteUTXO(txid string, vout uint32) error {
	return s.bucket(bucketUTXOs).Delete(utxoKey(txid, vout))
}

// MarkUTXOSpent marks a UTXO spent by spentByTxID. No-op (idempotent) if
// already spent by the same txid.
func (s *Session) MarkUTXOSpent(txid string, vout uint32, spentByTxID string) error {
	u, ok, err := s.GetUTXO(txid, vout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("store: spend of unknown utxo %s:%d", txid, vout)
	}
	if u.Spent {
		return nil
	}
	u.Spent = true
	u.SpentByTxID = spentByTxID
	return s.PutUTXO(u)
}

// ForEachUTXO calls fn for every UTXO row. Iteration order is lexicographic
// by (txid:vout), not by amount — callers needing amount order sort after
// collecting.
func (s *Session) ForEachUTXO(fn func(UTXO) error) error {
	c := s.bucket(bucketUTXOs).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var u UTXO
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

// UTXOsForAddress returns every UTXO owned by address, spent or not.
func (s *Session) UTXOsForAddress(address string) ([]UTXO, error) {
	var out []UTXO
	err := s.ForEachUTXO(func(u UTXO) error {
		if u.Address == address {
			out = append(out, u)
		}
		return nil
	})
	return out, err
}
