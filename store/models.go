package store

// Header is the persisted form of a block header. CumulativeWork and
// Target are stored as 64-char lowercase hex 256-bit unsigned integers.
type Header struct {
	Height         uint32 `json:"height"`
	Hash           string `json:"hash"`
	PrevHash       string `json:"prev_hash"`
	MerkleRoot     string `json:"merkle_root"`
	Timestamp      uint64 `json:"timestamp"`
	Version        uint32 `json:"version"`
	Nonce          uint64 `json:"nonce"`
	Target         string `json:"target"`
	MinerAddress   string `json:"miner_address"`
	TxCount        uint32 `json:"tx_count"`
	CumulativeWork string `json:"cumulative_work"`
	// Difficulty is the difficulty used to mine this header, stored
	// alongside CumulativeWork so retargeting does not have to approximate
	// it from a cumulative-work delta.
	Difficulty uint64 `json:"difficulty"`
}

// Transaction is the persisted confirmation record for a submitted tx.
type Transaction struct {
	TxID          string `json:"txid"`
	RawCanonical  []byte `json:"raw_canonical_bytes"`
	Fee           int64  `json:"fee"` // mites
	AddedAtMs     int64  `json:"added_at_ms"`
	InBlockHash   string `json:"in_block_hash,omitempty"`
}

// Confirmed reports whether the transaction has been included in a block.
func (t Transaction) Confirmed() bool { return t.InBlockHash != "" }

// UTXO is one unspent-or-spent output.
type UTXO struct {
	TxID        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	Address     string `json:"address"`
	Amount      int64  `json:"amount"` // mites
	Spent       bool   `json:"spent"`
	SpentByTxID string `json:"spent_by_txid,omitempty"`
	IsCoinbase  bool   `json:"is_coinbase"`
	// CreatedHeight is the height of the block that created this output;
	// used for coinbase maturity checks (creation height + maturity).
	CreatedHeight uint32 `json:"created_height"`
}

// Key returns the "txid:vout" composite key for this UTXO.
func (u UTXO) Key() []byte {
	return utxoKey(u.TxID, u.Vout)
}

// MempoolEntry is one pending (unconfirmed) transaction.
type MempoolEntry struct {
	TxID      string `json:"txid"`
	Raw       []byte `json:"raw"`
	Fee       int64  `json:"fee"` // mites
	AddedAtMs int64  `json:"added_at_ms"`
	FromAddr  string `json:"from_addr"`
	ToAddr    string `json:"to_addr"`
	Amount    int64  `json:"amount"` // mites
}

// Reward is created exactly once per confirmed block (or per fairness
// settlement payout, which is also a Reward row).
type Reward struct {
	Height        uint32 `json:"height"`
	MinerAddress  string `json:"miner_address"`
	Amount        int64  `json:"amount"` // mites
	CoinbaseTxID  string `json:"coinbase_txid"`
	CreatedAtMs   int64  `json:"created_at_ms"`
}

// FairnessEpoch is a fixed-length height range over which fairness credits
// accrue before being settled.
type FairnessEpoch struct {
	StartHeight uint32  `json:"start_height"`
	EndHeight   uint32  `json:"end_height"`
	PoolRatio   float64 `json:"pool_ratio"`
	Settled     bool    `json:"settled"`
}

// FairnessCredit accrues near-target-proof credit for one miner in one
// epoch.
type FairnessCredit struct {
	Epoch        uint32  `json:"epoch"` // epoch start height
	MinerAddress string  `json:"miner_address"`
	CreditUnits  float64 `json:"credit_units"`
	LastMs       int64   `json:"last_ms"`
}
