// Package workservice implements the solo work RPC contract: an ephemeral
// job table handing out mining templates, submit-side re-validation
// through consensus.AcceptExternalHeader, and a ticketed lease variant for
// single-user miners that doesn't require a live job lookup to verify
// authenticity.
package workservice

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/consensus"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/fairness"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

const ticketSecretKVKey = "work_ticket_secret"

type job struct {
	issuedMs  int64
	ttlMs     int64
	height    uint32
	prevHash  string
	target    string
	version   uint32
	timestamp uint64
	txids     []string
}

// Service holds the in-memory job and ticket tables for one node process.
// The persistence layer is the only permitted shared mutable state in the
// core; these tables are ephemeral service bookkeeping, not ledger state,
// so they live here rather than in store.
type Service struct {
	st      *store.Store
	params  *chaincfg.Params
	backend pow.Backend
	fp      fairness.FairnessParams

	mu   sync.Mutex
	jobs map[string]job

	ticketMu sync.Mutex
	tickets  map[string]ticketEntry
	secret   []byte
}

// New constructs a Service and bootstraps its HMAC ticket-signing secret
// from KV, generating and persisting one on first run.
func New(st *store.Store, params *chaincfg.Params, backend pow.Backend) (*Service, error) {
	s := &Service{
		st: st, params: params, backend: backend,
		jobs: make(map[string]job), tickets: make(map[string]ticketEntry),
		fp: fairness.FairnessParams{
			EpochLength:           params.FairnessEpochLengthMain,
			InitialBlockRewardMts: params.InitialBlockReward,
			HalvingIntervalBlocks: params.HalvingIntervalBlocks,
		},
	}
	if err := s.bootstrapSecret(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) bootstrapSecret() error {
	return s.st.Update(func(sess *store.Session) error {
		if v, ok := sess.KVGet(ticketSecretKVKey); ok {
			s.secret = v
			return nil
		}
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		if err := sess.KVPut(ticketSecretKVKey, secret); err != nil {
			return err
		}
		s.secret = secret
		return nil
	})
}

func nowMs() int64 { return time.Now().UnixMilli() }

// GetWorkResponse is the job handed to a polling miner.
type GetWorkResponse struct {
	JobID     string   `json:"job_id"`
	IssuedMs  int64    `json:"issued_ms"`
	TTLMs     int64    `json:"ttl_ms"`
	Height    uint32   `json:"height"`
	PrevHash  string   `json:"prev_hash"`
	Target    string   `json:"target"`
	Version   uint32   `json:"version"`
	Timestamp uint64   `json:"timestamp"`
	MinerHint string   `json:"miner_hint"`
	TxIDs     []string `json:"txids"`
}

// GetWork snapshots the current tip into a fresh job.
func (s *Service) GetWork(minerHint string) (GetWorkResponse, error) {
	var snap consensus.JobSnapshot
	err := s.st.View(func(sess *store.Session) error {
		var err error
		snap, err = consensus.PrepareJob(sess, s.params)
		return err
	})
	if err != nil {
		return GetWorkResponse{}, err
	}

	id := uuid.NewString()
	now := nowMs()
	j := job{
		issuedMs: now, ttlMs: s.params.WorkJobTTL.Milliseconds(),
		height: snap.Height, prevHash: snap.PrevHash, target: snap.Target,
		version: snap.Version, timestamp: snap.Timestamp, txids: snap.TxIDsSnapshot,
	}

	s.mu.Lock()
	s.expireJobsLocked(now)
	s.jobs[id] = j
	s.mu.Unlock()

	return GetWorkResponse{
		JobID: id, IssuedMs: now, TTLMs: j.ttlMs, Height: snap.Height, PrevHash: snap.PrevHash,
		Target: snap.Target, Version: snap.Version, Timestamp: snap.Timestamp, MinerHint: minerHint,
		TxIDs: snap.TxIDsSnapshot,
	}, nil
}

// expireJobsLocked drops jobs past their TTL (lazy expiry on access).
// Caller must hold s.mu.
func (s *Service) expireJobsLocked(now int64) {
	for id, j := range s.jobs {
		if now-j.issuedMs > j.ttlMs {
			delete(s.jobs, id)
		}
	}
}

// SubmitWork resolves jobID, re-validates the candidate against it, and on
// success appends the block via consensus.AcceptExternalHeader, then runs
// the fairness epoch-ensure/settle hook.
func (s *Service) SubmitWork(jobID, minerAddress string, nonce uint64, timestamp uint64, version uint32, merkleRootHex string, prevHashHex *string) (*consensus.AcceptResult, *coreerr.Error) {
	s.mu.Lock()
	now := nowMs()
	s.expireJobsLocked(now)
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, coreerr.New(coreerr.UnknownOrExpiredJob, "unknown or expired job")
	}
	if prevHashHex != nil && *prevHashHex != "" && *prevHashHex != j.prevHash {
		return nil, coreerr.New(coreerr.PrevMismatch, "submitted prev_hash does not match issued job")
	}

	result, acceptErr := s.acceptAndSettle(consensus.ExternalHeader{
		PrevHash: j.prevHash, Version: version, Timestamp: timestamp, Target: j.target,
		Nonce: nonce, MinerAddress: minerAddress, TxIDsSnapshot: j.txids, SubmittedMerkle: merkleRootHex,
	})
	if acceptErr != nil {
		return nil, acceptErr
	}

	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
	log.Info("work service accepted submission", "job_id", jobID, "height", result.Header.Height, "hash", result.Header.Hash)
	return result, nil
}

// acceptAndSettle runs external acceptance plus the fairness epoch hook in
// one store transaction.
func (s *Service) acceptAndSettle(ext consensus.ExternalHeader) (*consensus.AcceptResult, *coreerr.Error) {
	var result *consensus.AcceptResult
	var acceptErr *coreerr.Error
	err := s.st.Update(func(sess *store.Session) error {
		res, aerr := consensus.AcceptExternalHeader(sess, s.params, s.backend, ext)
		if aerr != nil {
			acceptErr = aerr
			return aerr
		}
		result = res
		if err := fairness.EnsureEpoch(sess, res.Header.Height, s.fp.EpochLength, s.params.FairnessPoolRatio); err != nil {
			return err
		}
		return fairness.SettleIfCrossed(sess, s.fp, res.PrevHeight, res.Header.Height)
	})
	if acceptErr != nil {
		return nil, acceptErr
	}
	if err != nil {
		return nil, coreerr.Newf(coreerr.HeaderInvalid, "commit error: %v", err)
	}
	return result, nil
}
