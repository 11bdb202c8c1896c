// Package store is the persistent layer: typed tables over a single bbolt
// database file, with transactional sessions and a busy-retry policy for
// idempotent operations. Every bucket below corresponds to one domain
// entity.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/log"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketHeaders         = []byte("headers")          // hash -> Header
	bucketHeadersByHeight = []byte("headers_by_height") // BE(height) -> hash
	bucketTxs             = []byte("txs")               // txid -> Transaction
	bucketUTXOs            = []byte("utxos")             // txid:vout -> UTXO
	bucketMempool          = []byte("mempool")           // txid -> MempoolEntry
	bucketRewards           = []byte("rewards")           // coinbase/fairness txid -> Reward
	bucketFairnessEpochs     = []byte("fairness_epochs")    // BE(start) -> FairnessEpoch
	bucketFairnessCredits     = []byte("fairness_credits")   // BE(start):addr -> FairnessCredit
	bucketKV                   = []byte("kv")                 // string -> bytes
)

var allBuckets = [][]byte{
	bucketHeaders, bucketHeadersByHeight, bucketTxs, bucketUTXOs,
	bucketMempool, bucketRewards, bucketFairnessEpochs, bucketFairnessCredits,
	bucketKV,
}

// Store wraps a bbolt database and applies the chain's busy-retry policy.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures every
// typed bucket exists.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bootstrap buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// RetryPolicy is the busy-retry schedule: initial 25ms, factor 1.7, capped
// at 300ms, up to 8 attempts.
type RetryPolicy struct {
	Initial    time.Duration
	Factor     float64
	Cap        time.Duration
	MaxRetries int
}

// DefaultRetryPolicy is the reference deployment's backoff schedule.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    25 * time.Millisecond,
	Factor:     1.7,
	Cap:        300 * time.Millisecond,
	MaxRetries: 8,
}

func isBusy(err error) bool {
	return err == bolt.ErrTimeout || err == bolt.ErrDatabaseNotOpen
}

// Update runs fn inside a writable bbolt transaction, retrying with capped
// exponential backoff when the underlying database reports lock
// contention. fn must be idempotent: it may be invoked more than once if
// earlier attempts fail on a busy condition before committing.
func (s *Store) Update(fn func(*Session) error) error {
	policy := DefaultRetryPolicy
	delay := policy.Initial
	var lastErr error
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		err := s.db.Update(func(tx *bolt.Tx) error {
			return fn(&Session{tx: tx})
		})
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		log.Debug("store: database busy, retrying", "attempt", attempt, "delay", delay)
		time.Sleep(delay + time.Duration(rand.Intn(5))*time.Millisecond)
		delay = time.Duration(float64(delay) * policy.Factor)
		if delay > policy.Cap {
			delay = policy.Cap
		}
	}
	return fmt.Errorf("store: update failed after %d attempts: %w", policy.MaxRetries, lastErr)
}

// View runs fn inside a read-only transaction. Readers never contend with
// each other or block behind the retry policy.
func (s *Store) View(fn func(*Session) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Session{tx: tx})
	})
}

// Session is a single bbolt transaction exposing the typed table helpers.
// It must not be retained past the Update/View call that produced it.
type Session struct {
	tx *bolt.Tx
}

func (s *Session) bucket(name []byte) *bolt.Bucket {
	return s.tx.Bucket(name)
}

func beUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, out any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}
