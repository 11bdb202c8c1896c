package store

import "encoding/json"

// PutMempoolEntry inserts or overwrites a pending transaction, keyed by txid.
func (s *Session) PutMempoolEntry(e MempoolEntry) error {
	return putJSON(s.bucket(bucketMempool), []byte(e.TxID), e)
}

// GetMempoolEntry fetches a pending transaction by txid.
func (s *Session) GetMempoolEntry(txid string) (MempoolEntry, bool, error) {
	var e MempoolEntry
	ok, err := getJSON(s.bucket(bucketMempool), []byte(txid), &e)
	return e, ok, err
}

// DeleteMempoolEntry removes a pending transaction (confirmation or purge).
func (s *Session) DeleteMempoolEntry(txid string) error {
	return s.bucket(bucketMempool).Delete([]byte(txid))
}

// ForEachMempoolEntry calls fn for every pending transaction. Order is
// lexicographic by txid; callers needing fee order sort after collecting.
func (s *Session) ForEachMempoolEntry(fn func(MempoolEntry) error) error {
	c := s.bucket(bucketMempool).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var e MempoolEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// AllMempoolEntries collects every pending transaction.
func (s *Session) AllMempoolEntries() ([]MempoolEntry, error) {
	var out []MempoolEntry
	err := s.ForEachMempoolEntry(func(e MempoolEntry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}
