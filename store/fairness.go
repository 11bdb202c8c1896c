package store

import (
	"bytes"
	"encoding/json"
)

func fairnessEpochKey(start uint32) []byte {
	return beUint32(start)
}

func fairnessCreditKey(start uint32, addr string) []byte {
	return append(beUint32(start), append([]byte(":"), []byte(addr)...)...)
}

// PutFairnessEpoch inserts or updates an epoch row, keyed by start height.
func (s *Session) PutFairnessEpoch(e FairnessEpoch) error {
	return putJSON(s.bucket(bucketFairnessEpochs), fairnessEpochKey(e.StartHeight), e)
}

// GetFairnessEpoch fetches the epoch starting at start, if any.
func (s *Session) GetFairnessEpoch(start uint32) (FairnessEpoch, bool, error) {
	var e FairnessEpoch
	ok, err := getJSON(s.bucket(bucketFairnessEpochs), fairnessEpochKey(start), &e)
	return e, ok, err
}

// PutFairnessCredit inserts or overwrites a credit row for (epoch, addr).
func (s *Session) PutFairnessCredit(c FairnessCredit) error {
	return putJSON(s.bucket(bucketFairnessCredits), fairnessCreditKey(c.Epoch, c.MinerAddress), c)
}

// GetFairnessCredit fetches the credit row for (epoch, addr).
func (s *Session) GetFairnessCredit(epoch uint32, addr string) (FairnessCredit, bool, error) {
	var c FairnessCredit
	ok, err := getJSON(s.bucket(bucketFairnessCredits), fairnessCreditKey(epoch, addr), &c)
	return c, ok, err
}

// CreditsForEpoch returns every credit row belonging to the given epoch
// start height, by scanning the BE(start)-prefixed key range.
func (s *Session) CreditsForEpoch(start uint32) ([]FairnessCredit, error) {
	prefix := beUint32(start)
	c := s.bucket(bucketFairnessCredits).Cursor()
	var out []FairnessCredit
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var cr FairnessCredit
		if err := json.Unmarshal(v, &cr); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}
