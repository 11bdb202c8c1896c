package workservice

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/sha3"

	"github.com/google/uuid"

	"github.com/smellychain/smellynode/consensus"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/fairness"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

// TicketPayload is the self-contained, HMAC-signed lease a ticket holder
// mines against. It carries everything needed to re-verify a submission's
// authenticity without a server-side lookup: addr binds the lease to one
// miner, prev_hash/target/version
// pin the job, issued/valid_to bound its lifetime, and nonce_start/window
// assign the holder a nonce range starting at a random u32 (ranges of
// different tickets are not coordinated and may overlap).
type TicketPayload struct {
	Addr        string `json:"addr"`
	PrevHash    string `json:"prev_hash"`
	Target      string `json:"target"`
	Version     uint32 `json:"version"`
	IssuedMs    int64  `json:"issued_ms"`
	ValidToMs   int64  `json:"valid_to"`
	NonceStart  uint32 `json:"nonce_start"`
	NonceWindow uint32 `json:"nonce_window"`
	Seed        string `json:"seed"`
}

func canonicalPayloadBytes(p TicketPayload) []byte {
	m := map[string]any{
		"addr": p.Addr, "prev_hash": p.PrevHash, "target": p.Target, "version": p.Version,
		"issued_ms": p.IssuedMs, "valid_to": p.ValidToMs, "nonce_start": p.NonceStart,
		"nonce_window": p.NonceWindow, "seed": p.Seed,
	}
	b, _ := json.Marshal(m)
	return b
}

func (s *Service) signPayload(payload []byte) string {
	mac := hmac.New(sha3.New256, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Ticket is the {payload, sig} pair handed back by IssueTicket. payload is
// opaque canonical JSON the holder must echo back verbatim on every
// submission; sig lets this process re-verify it issued that exact lease.
// Submissions also need the in-memory record kept per ticket_id.
type Ticket struct {
	TicketID string `json:"ticket_id"`
	Payload  string `json:"payload"`
	Sig      string `json:"sig"`
}

type ticketEntry struct {
	payload TicketPayload
	txids   []string
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// expireTicketsLocked drops leases past valid_to. Caller must hold s.ticketMu.
func (s *Service) expireTicketsLocked(now int64) {
	for id, t := range s.tickets {
		if now > t.payload.ValidToMs {
			delete(s.tickets, id)
		}
	}
}

// IssueTicket leases a nonce range against the current tip to addr. The
// returned ticket_id indexes this process's in-memory record of the
// authoritative txid snapshot. Submissions are checked against payload/sig
// and must also find that record; it is not persisted, so a ticket issued
// before a restart is rejected as ticket-expired.
func (s *Service) IssueTicket(addr string) (Ticket, error) {
	var snap consensus.JobSnapshot
	err := s.st.View(func(sess *store.Session) error {
		var err error
		snap, err = consensus.PrepareJob(sess, s.params)
		return err
	})
	if err != nil {
		return Ticket{}, err
	}

	now := nowMs()
	seed := make([]byte, 16)
	_, _ = rand.Read(seed)
	payload := TicketPayload{
		Addr: addr, PrevHash: snap.PrevHash, Target: snap.Target, Version: snap.Version,
		IssuedMs: now, ValidToMs: now + s.params.TicketWindow.Milliseconds(),
		NonceStart: randUint32(), NonceWindow: 1 << s.params.TicketNonceWindowPow2,
		Seed: hex.EncodeToString(seed),
	}
	payloadBytes := canonicalPayloadBytes(payload)
	sig := s.signPayload(payloadBytes)
	id := uuid.NewString()

	s.ticketMu.Lock()
	s.expireTicketsLocked(now)
	s.tickets[id] = ticketEntry{payload: payload, txids: snap.TxIDsSnapshot}
	s.ticketMu.Unlock()

	return Ticket{TicketID: id, Payload: string(payloadBytes), Sig: sig}, nil
}

// validateTicket re-derives the signature over the submitted payload bytes
// (not the stored copy — the caller must echo back exactly what it was
// issued) and checks addr binding and expiry. Any failure returns the
// precise taxonomy kind so callers don't need to re-decide which applies.
func (s *Service) validateTicket(ticketID, addr, payload, sig string) (TicketPayload, []string, *coreerr.Error) {
	expected := s.signPayload([]byte(payload))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return TicketPayload{}, nil, coreerr.New(coreerr.BadTicketSignature, "ticket signature does not match")
	}

	var p TicketPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return TicketPayload{}, nil, coreerr.Newf(coreerr.BadTicketPayload, "malformed ticket payload: %v", err)
	}
	if p.Addr != addr {
		return TicketPayload{}, nil, coreerr.New(coreerr.AddrMismatch, "ticket was issued to a different address")
	}
	now := nowMs()
	if now > p.ValidToMs {
		return TicketPayload{}, nil, coreerr.New(coreerr.TicketExpired, "ticket lease has expired")
	}

	s.ticketMu.Lock()
	s.expireTicketsLocked(now)
	entry, ok := s.tickets[ticketID]
	s.ticketMu.Unlock()
	if !ok {
		return TicketPayload{}, nil, coreerr.New(coreerr.TicketExpired, "ticket id unknown or expired")
	}
	return p, entry.txids, nil
}

// SubmitNearTarget credits a contributor who found a digest below the
// relaxed near-target threshold but not the real one: proof of honest
// work between full finds, which accrues fairness credit rather than
// producing a block.
func (s *Service) SubmitNearTarget(ticketID, addr string, nonce uint64, digestHex string, proofLevel int, payload, sig string) *coreerr.Error {
	p, _, verr := s.validateTicket(ticketID, addr, payload, sig)
	if verr != nil {
		return verr
	}
	if nonce < uint64(p.NonceStart) || nonce >= uint64(p.NonceStart)+uint64(p.NonceWindow) {
		return coreerr.New(coreerr.NonceOutOfWindow, "nonce outside the leased window")
	}
	target, err := pow.ParseTargetHex(p.Target)
	if err != nil {
		return coreerr.Newf(coreerr.BadTicketPayload, "stored ticket target invalid: %v", err)
	}
	digest, err := pow.ParseTargetHex(digestHex)
	if err != nil {
		return coreerr.Newf(coreerr.BadFormat, "malformed digest: %v", err)
	}
	nearTarget := pow.ShiftLeft(target, s.params.TicketNearTargetShift)
	if !pow.MeetsTarget(digest, nearTarget) {
		return coreerr.New(coreerr.NotANearTarget, "digest does not meet the relaxed near-target threshold")
	}
	if proofLevel < 1 {
		proofLevel = 1
	}

	err = s.st.Update(func(sess *store.Session) error {
		tip, hasTip, err := sess.Tip()
		if err != nil {
			return err
		}
		height := uint32(0)
		if hasTip {
			height = tip.Height
		}
		return fairness.AccrueNearTargetCredit(sess, height, s.fp.EpochLength, s.params.FairnessPoolRatio, addr, float64(proofLevel), nowMs())
	})
	if err != nil {
		return coreerr.Newf(coreerr.HeaderInvalid, "credit accrual failed: %v", err)
	}
	return nil
}

// SubmitBlock promotes a ticket holder's full solution to a block: the
// ticket's stored txid snapshot stands in for a live job-table lookup,
// since a ticket lease is meant to survive independent of the job table's
// TTL.
func (s *Service) SubmitBlock(ticketID, addr string, nonce uint64, version uint32, timestamp uint64, merkleRootHex, payload, sig string) (*consensus.AcceptResult, *coreerr.Error) {
	p, txids, verr := s.validateTicket(ticketID, addr, payload, sig)
	if verr != nil {
		return nil, verr
	}

	result, acceptErr := s.acceptAndSettle(consensus.ExternalHeader{
		PrevHash: p.PrevHash, Version: version, Timestamp: timestamp, Target: p.Target,
		Nonce: nonce, MinerAddress: addr, TxIDsSnapshot: txids, SubmittedMerkle: merkleRootHex,
	})
	if acceptErr != nil {
		return nil, acceptErr
	}

	s.ticketMu.Lock()
	delete(s.tickets, ticketID)
	s.ticketMu.Unlock()
	return result, nil
}
