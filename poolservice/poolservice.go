// Package poolservice implements a Stratum-like pool protocol: a
// line-delimited JSON session server where every connected miner shares
// one broadcast job, submits are checked against a relaxed share target
// for accounting and against the real network target for block
// promotion.
package poolservice

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/consensus"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/fairness"
	"github.com/smellychain/smellynode/internal/metrics"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

func nowMs() int64 { return time.Now().UnixMilli() }

type jobTemplate struct {
	JobID     string   `json:"job_id"`
	PrevHash  string   `json:"prev_hash"`
	Version   uint32   `json:"version"`
	Target    string   `json:"target"`
	Timestamp uint64   `json:"timestamp"`
	TxIDs     []string `json:"txids"`
}

// Service owns the single job template shared by every connected session.
// Unlike workservice's per-request job table, a pool broadcasts one job to
// many miners and rotates it on demand (startup, block acceptance, or an
// operator-triggered refresh), matching a real pool's "many shares against
// one job" shape.
type Service struct {
	st      *store.Store
	params  *chaincfg.Params
	backend pow.Backend
	fp      fairness.FairnessParams

	shareDifficulty uint64

	mu       sync.Mutex
	current  jobTemplate
	sessions map[string]*Session
}

// New builds a pool service. shareDifficulty sets the accounting threshold
// (share_target = target_from_difficulty(shareDifficulty)). Shares land
// more often than blocks only while shareDifficulty is below the network
// difficulty; New does not check this.
func New(st *store.Store, params *chaincfg.Params, backend pow.Backend, shareDifficulty uint64) *Service {
	return &Service{
		st: st, params: params, backend: backend, shareDifficulty: shareDifficulty,
		sessions: make(map[string]*Session),
		fp: fairness.FairnessParams{
			EpochLength:           params.FairnessEpochLengthMain,
			InitialBlockRewardMts: params.InitialBlockReward,
			HalvingIntervalBlocks: params.HalvingIntervalBlocks,
		},
	}
}

func (s *Service) shareTarget() string {
	return pow.TargetFromDifficultyHex(s.shareDifficulty)
}

// RefreshJob rebuilds the current job from the tip and pushes a notify to
// every connected session. Call it once at startup and again after every
// block this process commits, whether mined locally or promoted from a
// pool share.
func (s *Service) RefreshJob() error {
	var snap consensus.JobSnapshot
	err := s.st.View(func(sess *store.Session) error {
		var err error
		snap, err = consensus.PrepareJob(sess, s.params)
		return err
	})
	if err != nil {
		return err
	}

	tmpl := jobTemplate{
		JobID: uuid.NewString(), PrevHash: snap.PrevHash, Version: snap.Version,
		Target: snap.Target, Timestamp: snap.Timestamp, TxIDs: snap.TxIDsSnapshot,
	}

	s.mu.Lock()
	s.current = tmpl
	peers := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		peers = append(peers, sess)
	}
	s.mu.Unlock()

	b, _ := json.Marshal(map[string]any{
		"type": "notify", "job_id": tmpl.JobID, "template": tmpl,
		"pool_target": s.shareTarget(), "share_diff": s.shareDifficulty,
	})
	for _, peer := range peers {
		peer.push(b)
	}
	return nil
}

// Session is one connected miner: address, share counters and its current
// known job_id, all guarded by its own mutex since connected sessions act
// independently of each other.
type Session struct {
	svc  *Service
	id   string
	conn net.Conn
	out  chan []byte
	done chan struct{}

	mu             sync.Mutex
	address        string
	authorized     bool
	acceptedShares int
	rejectedShares int
	lastSubmitMs   int64
	lastJobID      string
}

// Serve drives one pool connection until the peer disconnects or the
// connection errors: a reader loop dispatching one JSON request per line,
// and a writer goroutine draining the session's outbound channel so a
// notify push never races a reply write on the same net.Conn.
func (s *Service) Serve(conn net.Conn) {
	sess := &Session{
		svc: s, id: uuid.NewString(), conn: conn,
		out: make(chan []byte, 16), done: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	go sess.writeLoop()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		close(sess.done)
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sess.handleLine(line)
	}
	if err := scanner.Err(); err != nil {
		log.Debug("pool session read error", "session", sess.id, "err", err)
	}
}

func (sess *Session) push(b []byte) {
	select {
	case sess.out <- b:
	case <-sess.done:
	default:
		log.Warn("pool session outbound buffer full, dropping push", "session", sess.id)
	}
}

func (sess *Session) writeLoop() {
	w := bufio.NewWriter(sess.conn)
	for {
		select {
		case b := <-sess.out:
			if _, err := w.Write(b); err != nil {
				return
			}
			w.WriteByte('\n')
			w.Flush()
		case <-sess.done:
			return
		}
	}
}

type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (sess *Session) reply(v any) {
	b, _ := json.Marshal(v)
	sess.push(b)
}

func (sess *Session) handleLine(line string) {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		sess.reply(map[string]any{"error": string(coreerr.BadFormat)})
		return
	}
	switch req.Method {
	case "subscribe":
		sess.reply(map[string]any{"session_id": sess.id})
	case "authorize":
		sess.handleAuthorize(req.Params)
	case "get_job":
		sess.handleGetJob()
	case "submit":
		sess.handleSubmit(req.Params)
	default:
		sess.reply(map[string]any{"error": string(coreerr.BadFormat)})
	}
}

func (sess *Session) handleAuthorize(raw json.RawMessage) {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.Address == "" {
		sess.reply(false)
		return
	}
	sess.mu.Lock()
	sess.address = params.Address
	sess.authorized = true
	sess.mu.Unlock()
	sess.reply(true)
}

func (sess *Session) handleGetJob() {
	sess.svc.mu.Lock()
	tmpl := sess.svc.current
	shareDiff := sess.svc.shareDifficulty
	sess.svc.mu.Unlock()

	sess.mu.Lock()
	sess.lastJobID = tmpl.JobID
	sess.mu.Unlock()

	sess.reply(map[string]any{
		"job_id": tmpl.JobID, "template": tmpl,
		"pool_target": pow.TargetFromDifficultyHex(shareDiff), "share_diff": shareDiff,
	})
}

type submitParams struct {
	Address       string  `json:"address"`
	JobID         string  `json:"job_id"`
	Nonce         uint64  `json:"nonce"`
	Timestamp     uint64  `json:"timestamp"`
	MerkleRootHex string  `json:"merkle_root_hex"`
	Version       uint32  `json:"version"`
	PrevHashHex   *string `json:"prev_hash_hex,omitempty"`
}

// handleSubmit runs the pool's share/promotion logic: stale-job rejection
// with the same-prev override, share-target accounting, and
// network-target promotion to a real block via external acceptance.
func (sess *Session) handleSubmit(raw json.RawMessage) {
	var p submitParams
	if err := json.Unmarshal(raw, &p); err != nil {
		sess.reply(map[string]any{"error": string(coreerr.BadFormat)})
		return
	}

	sess.svc.mu.Lock()
	tmpl := sess.svc.current
	shareDiff := sess.svc.shareDifficulty
	sess.svc.mu.Unlock()

	stale := p.JobID != tmpl.JobID
	if stale && p.PrevHashHex != nil && *p.PrevHashHex == tmpl.PrevHash {
		stale = false
	}
	if stale {
		sess.recordReject()
		sess.reply(map[string]any{"error": string(coreerr.StaleJob)})
		return
	}

	merkle := strings.ToLower(p.MerkleRootHex)
	fields := consensus.HeaderFields{
		Version: p.Version, PrevHash: tmpl.PrevHash, MerkleRoot: merkle,
		Timestamp: p.Timestamp, Target: tmpl.Target, Nonce: p.Nonce,
		MinerAddress: p.Address, TxCount: uint32(len(tmpl.TxIDs)),
	}
	digest := sess.svc.backend.Digest(fields.Serialize(), p.Nonce, fields.PrevHashBytes())

	shareTarget, err := pow.ParseTargetHex(pow.TargetFromDifficultyHex(shareDiff))
	if err != nil {
		sess.reply(map[string]any{"error": string(coreerr.BadFormat)})
		return
	}
	if !pow.MeetsTarget(digest, shareTarget) {
		sess.recordReject()
		sess.reply(false)
		return
	}
	sess.recordAccept()

	networkTarget, err := pow.ParseTargetHex(tmpl.Target)
	if err != nil {
		sess.reply(true)
		return
	}
	if !pow.MeetsTarget(digest, networkTarget) {
		sess.reply(true) // accepted as share only
		return
	}

	result, acceptErr := sess.svc.promote(consensus.ExternalHeader{
		PrevHash: tmpl.PrevHash, Version: p.Version, Timestamp: p.Timestamp, Target: tmpl.Target,
		Nonce: p.Nonce, MinerAddress: p.Address, TxIDsSnapshot: tmpl.TxIDs, SubmittedMerkle: merkle,
	})
	if acceptErr != nil {
		metrics.BlocksRejected.WithLabelValues(string(acceptErr.Kind)).Inc()
		log.Warn("pool share met network target but promotion failed", "session", sess.id, "err", acceptErr)
		sess.reply(map[string]any{"error": acceptErr.Kind})
		return
	}
	metrics.BlocksAccepted.WithLabelValues("pool").Inc()
	metrics.ChainHeight.Set(float64(result.Header.Height))

	log.Info("pool share promoted to block", "session", sess.id, "height", result.Header.Height, "hash", result.Header.Hash)
	if err := sess.svc.RefreshJob(); err != nil {
		log.Warn("pool job refresh after promotion failed", "err", err)
	}
	sess.reply(map[string]any{"accepted": true, "promoted": true, "hash": result.Header.Hash, "height": result.Header.Height})
}

func (sess *Session) recordAccept() {
	sess.mu.Lock()
	sess.acceptedShares++
	sess.lastSubmitMs = nowMs()
	sess.mu.Unlock()
	metrics.PoolSharesAccepted.Inc()
}

func (sess *Session) recordReject() {
	sess.mu.Lock()
	sess.rejectedShares++
	sess.lastSubmitMs = nowMs()
	sess.mu.Unlock()
	metrics.PoolSharesRejected.Inc()
}

// promote runs external acceptance plus the fairness epoch hook in one
// store transaction, the same pairing workservice.SubmitWork/SubmitBlock
// use.
func (s *Service) promote(ext consensus.ExternalHeader) (*consensus.AcceptResult, *coreerr.Error) {
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
