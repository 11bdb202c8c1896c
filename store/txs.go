package store

// PutTx inserts or updates a transaction confirmation record, keyed by txid.
func (s *Session) PutTx(t Transaction) error {
	return putJSON(s.bucket(bucketTxs), []byte(t.TxID), t)
}

// GetTx fetches a transaction record by txid.
func (s *Session) GetTx(txid string) (Transaction, bool, error) {
	var t Transaction
	ok, err := getJSON(s.bucket(bucketTxs), []byte(txid), &t)
	return t, ok, err
}

// TxConfirmed reports whether txid is already confirmed (has a non-empty
// in_block_hash).
func (s *Session) TxConfirmed(txid string) (bool, error) {
	t, ok, err := s.GetTx(txid)
	if err != nil || !ok {
		return false, err
	}
	return t.Confirmed(), nil
}

// ConfirmTx marks a transaction as confirmed in the given block.
func (s *Session) ConfirmTx(txid, blockHash string) error {
	t, ok, err := s.GetTx(txid)
	if err != nil {
		return err
	}
	if !ok {
		t = Transaction{TxID: txid}
	}
	t.InBlockHash = blockHash
	return s.PutTx(t)
}
