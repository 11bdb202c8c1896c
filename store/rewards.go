package store

func rewardKey(coinbaseTxID string) []byte {
	return []byte(coinbaseTxID)
}

// PutReward inserts a reward row keyed by its coinbase/fairness txid, which
// is always unique and makes settlement idempotent: a second PutReward for
// the same txid is a silent no-op.
func (s *Session) PutReward(r Reward) error {
	b := s.bucket(bucketRewards)
	if b.Get(rewardKey(r.CoinbaseTxID)) != nil {
		return nil
	}
	return putJSON(b, rewardKey(r.CoinbaseTxID), r)
}

// RewardExists reports whether a reward with this txid has already been
// recorded.
func (s *Session) RewardExists(coinbaseTxID string) bool {
	return s.bucket(bucketRewards).Get(rewardKey(coinbaseTxID)) != nil
}

// GetReward fetches a reward by its coinbase/fairness txid.
func (s *Session) GetReward(coinbaseTxID string) (Reward, bool, error) {
	var r Reward
	ok, err := getJSON(s.bucket(bucketRewards), rewardKey(coinbaseTxID), &r)
	return r, ok, err
}
