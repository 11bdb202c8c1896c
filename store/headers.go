package store

import "fmt"

const tipKey = "tip_hash"

// PutHeader inserts a header, indexes it by height, and updates the tip
// pointer (the caller is responsible for only calling this for the new
// single tip — there is no branch storage).
func (s *Session) PutHeader(h Header) error {
	b := s.bucket(bucketHeaders)
	if existing := b.Get([]byte(h.Hash)); existing != nil {
		// Acceptance of a header whose hash already exists is a no-op.
		return nil
	}
	if err := putJSON(b, []byte(h.Hash), h); err != nil {
		return err
	}
	byHeight := s.bucket(bucketHeadersByHeight)
	if err := byHeight.Put(beUint32(h.Height), []byte(h.Hash)); err != nil {
		return err
	}
	return s.bucket(bucketKV).Put([]byte(tipKey), []byte(h.Hash))
}

// HeaderExists reports whether a header with this hash is already stored
// (used to make external acceptance idempotent).
func (s *Session) HeaderExists(hash string) bool {
	return s.bucket(bucketHeaders).Get([]byte(hash)) != nil
}

// GetHeader fetches a header by hash.
func (s *Session) GetHeader(hash string) (Header, bool, error) {
	var h Header
	ok, err := getJSON(s.bucket(bucketHeaders), []byte(hash), &h)
	return h, ok, err
}

// GetHeaderByHeight fetches a header by height.
func (s *Session) GetHeaderByHeight(height uint32) (Header, bool, error) {
	hash := s.bucket(bucketHeadersByHeight).Get(beUint32(height))
	if hash == nil {
		return Header{}, false, nil
	}
	return s.GetHeader(string(hash))
}

// Tip returns the current chain tip, or ok=false if the chain is empty
// (genesis not yet written).
func (s *Session) Tip() (Header, bool, error) {
	hash := s.bucket(bucketKV).Get([]byte(tipKey))
	if hash == nil {
		return Header{}, false, nil
	}
	return s.GetHeader(string(hash))
}

// PreviousTip returns the header at height-1 relative to the current tip,
// used for the "same-prev-as-previous-tip" grace rule on external
// acceptance.
func (s *Session) PreviousTip() (Header, bool, error) {
	tip, ok, err := s.Tip()
	if err != nil || !ok || tip.Height == 0 {
		return Header{}, false, err
	}
	return s.GetHeaderByHeight(tip.Height - 1)
}

// AncestorHeaders returns up to n headers ending at the tip (inclusive),
// oldest first, for the retarget window.
func (s *Session) AncestorHeaders(tipHeight uint32, n int) ([]Header, error) {
	if n <= 0 {
		return nil, nil
	}
	start := 0
	if int(tipHeight)-n+1 > 0 {
		start = int(tipHeight) - n + 1
	}
	out := make([]Header, 0, n)
	for h := uint32(start); h <= tipHeight; h++ {
		hdr, ok, err := s.GetHeaderByHeight(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("store: missing header at height %d", h)
		}
		out = append(out, hdr)
	}
	return out, nil
}
