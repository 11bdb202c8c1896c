package consensus

import (
	"time"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

// JobSnapshot is the tip-derived template handed to an external miner, a
// ticket holder, or a pool session: the work service and pool service both
// build one the same way local assembly does, just without mining it
// in-process.
type JobSnapshot struct {
	Height        uint32
	PrevHash      string
	Target        string
	Version       uint32
	Timestamp     uint64
	TxIDsSnapshot []string // coinbase first
}

// PrepareJob snapshots the current tip into a JobSnapshot: next height,
// retargeted difficulty, and the authoritative txid list built from the
// highest-fee spendable mempool candidates, reused verbatim from local
// assembly so a job's merkle root, once mined and resubmitted, matches
// exactly what AcceptExternalHeader rebuilds.
func PrepareJob(sess *store.Session, params *chaincfg.Params) (JobSnapshot, error) {
	tip, hasTip, err := sess.Tip()
	if err != nil {
		return JobSnapshot{}, err
	}

	height := uint32(0)
	prevHash := ZeroHash
	tipHeight := uint32(0)
	if hasTip {
		height = tip.Height + 1
		prevHash = tip.Hash
		tipHeight = tip.Height
	}

	diff := uint64(1)
	if height >= params.BootstrapOnlyBelowHeight {
		ancestors, err := sess.AncestorHeaders(tipHeight, params.RetargetWindow)
		if err != nil {
			return JobSnapshot{}, err
		}
		diff = NextDifficulty(ancestors, height, params.TargetBlockTimeSec, params.RetargetWindow, params.RetargetClampLow, params.RetargetClampHigh, params.DifficultyMin, params.DifficultyMax)
	}

	build, err := SelectCandidates(sess, params, tipHeight)
	if err != nil {
		return JobSnapshot{}, err
	}
	txids := CanonicalTxIDs(height, params.BootstrapOnlyBelowHeight, build.TxIDs)

	return JobSnapshot{
		Height:        height,
		PrevHash:      prevHash,
		Target:        pow.TargetFromDifficultyHex(diff),
		Version:       params.BlockVersion,
		Timestamp:     uint64(time.Now().Unix()),
		TxIDsSnapshot: txids,
	}, nil
}
