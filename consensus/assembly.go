package consensus

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
)

// AssembleAndMine builds a candidate block from the current tip and mines
// it locally: select transactions, build the merkle root, iterate nonces
// until the digest meets target or the attempt cap is reached, then
// commit. Callers run this inside one store.Update
// transaction; on any non-nil *coreerr.Error the caller should return a Go
// error from that callback so the whole attempt rolls back.
func AssembleAndMine(sess *store.Session, params *chaincfg.Params, backend pow.Backend, minerAddress string, stop <-chan struct{}) (*store.Header, *coreerr.Error) {
	tip, hasTip, err := sess.Tip()
	if err != nil {
		return nil, coreerr.Newf(coreerr.NoSolution, "store error: %v", err)
	}

	height := uint32(0)
	prevHash := ZeroHash
	tipHeight := uint32(0)
	var prevPtr *store.Header
	if hasTip {
		height = tip.Height + 1
		prevHash = tip.Hash
		tipHeight = tip.Height
		prevPtr = &tip
	}

	diff := uint64(1)
	if height >= params.BootstrapOnlyBelowHeight {
		ancestors, ancErr := sess.AncestorHeaders(tipHeight, params.RetargetWindow)
		if ancErr != nil {
			return nil, coreerr.Newf(coreerr.NoSolution, "store error: %v", ancErr)
		}
		diff = NextDifficulty(ancestors, height, params.TargetBlockTimeSec, params.RetargetWindow, params.RetargetClampLow, params.RetargetClampHigh, params.DifficultyMin, params.DifficultyMax)
	}
	target := pow.TargetFromDifficultyHex(diff)
	targetBytes, perr := pow.ParseTargetHex(target)
	if perr != nil {
		return nil, coreerr.Newf(coreerr.NoSolution, "bad computed target: %v", perr)
	}

	build, buildErr := SelectCandidates(sess, params, tipHeight)
	if buildErr != nil {
		return nil, coreerr.Newf(coreerr.CoinselectFailed, "candidate selection: %v", buildErr)
	}

	txids := CanonicalTxIDs(height, params.BootstrapOnlyBelowHeight, build.TxIDs)
	merkleRoot := MerkleRoot(txids)

	fields := HeaderFields{
		Version:      params.BlockVersion,
		PrevHash:     prevHash,
		MerkleRoot:   merkleRoot,
		Timestamp:    uint64(time.Now().Unix()),
		Target:       target,
		MinerAddress: minerAddress,
		TxCount:      uint32(len(txids)),
	}

	found := false
	var nonce uint64
	for nonce = 0; nonce < params.MiningAttemptCap; nonce++ {
		select {
		case <-stop:
			return nil, coreerr.New(coreerr.NoSolution, "mining cancelled")
		default:
		}
		fields.Nonce = nonce
		digest := backend.Digest(fields.Serialize(), nonce, fields.PrevHashBytes())
		if pow.MeetsTarget(digest, targetBytes) {
			found = true
			break
		}
		if params.MiningRefreshEvery > 0 && nonce%params.MiningRefreshEvery == 0 {
			now := uint64(time.Now().Unix())
			if now > fields.Timestamp {
				fields.Timestamp = now
			}
		}
	}
	if !found {
		log.Debug("no pow solution under attempt cap", "height", height, "cap", params.MiningAttemptCap, "target", target)
		return nil, coreerr.Newf(coreerr.NoSolution, "no solution under %d nonces at height %d", params.MiningAttemptCap, height)
	}

	if verr := ValidateHeader(fields, prevPtr, params.BlockVersion, backend); verr != nil {
		return nil, verr
	}

	hh := fields.Hash()
	prevWork := ""
	if hasTip {
		prevWork = tip.CumulativeWork
	}
	cumWork := addCumulativeWork(prevWork, diff)

	header := store.Header{
		Height: height, Hash: hh, PrevHash: prevHash, MerkleRoot: merkleRoot,
		Timestamp: fields.Timestamp, Version: fields.Version, Nonce: nonce,
		Target: target, MinerAddress: minerAddress, TxCount: fields.TxCount,
		CumulativeWork: cumWork, Difficulty: diff,
	}

	reward := BlockReward(height, params.InitialBlockReward, params.HalvingIntervalBlocks) + build.TotalFees
	if cerr := CommitBlock(sess, header, minerAddress, reward, build); cerr != nil {
		return nil, coreerr.Newf(coreerr.NoSolution, "commit failed: %v", cerr)
	}

	log.Info("mined block", "height", height, "hash", hh, "txs", len(txids), "nonce", nonce, "difficulty", diff)
	return &header, nil
}
