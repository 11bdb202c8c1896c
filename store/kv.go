package store

// KVGet fetches an opaque diagnostic/secret value by key.
func (s *Session) KVGet(key string) ([]byte, bool) {
	v := s.bucket(bucketKV).Get([]byte(key))
	if v == nil {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

// KVPut stores an opaque diagnostic/secret value.
func (s *Session) KVPut(key string, value []byte) error {
	return s.bucket(bucketKV).Put([]byte(key), value)
}
