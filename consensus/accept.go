package consensus

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/smellychain/smellynode/chaincfg"
	"github.com/smellychain/smellynode/coreerr"
	"github.com/smellychain/smellynode/ledger"
	"github.com/smellychain/smellynode/pow"
	"github.com/smellychain/smellynode/store"
	"github.com/smellychain/smellynode/txn"
)

// ExternalHeader is the candidate fields an outside miner, ticket holder or
// pool session submits for promotion to a block.
type ExternalHeader struct {
	PrevHash      string
	Version       uint32
	Timestamp     uint64
	Target        string
	Nonce         uint64
	MinerAddress  string
	TxIDsSnapshot []string
	SubmittedMerkle string // ignored below BootstrapOnlyBelowHeight
}

// AcceptResult is everything the caller needs to report back to the
// submitter and to drive the fairness hook. The caller — workservice or
// poolservice — invokes the fairness epoch-ensure/settle step with the
// returned heights once this function returns successfully; wiring it in
// here would import fairness from consensus, and fairness already imports
// consensus for BlockReward/FairnessRewardTxID.
type AcceptResult struct {
	Header       store.Header
	PrevHeight   uint32
	WasGraceAccept bool
}

// AcceptExternalHeader re-validates and appends a header an external party
// claims satisfies the current job or ticket. Callers run this inside one
// store.Update transaction, since the header insert and its ledger effects
// must land atomically, and must treat a non-nil *coreerr.Error as a signal
// to roll back (return it, wrapped, as the Update callback's error).
func AcceptExternalHeader(sess *store.Session, params *chaincfg.Params, backend pow.Backend, ext ExternalHeader) (*AcceptResult, *coreerr.Error) {
	tip, hasTip, err := sess.Tip()
	if err != nil {
		return nil, coreerr.Newf(coreerr.HeaderInvalid, "store error: %v", err)
	}

	var prev store.Header
	var prevPtr *store.Header
	graceAccept := false
	switch {
	case !hasTip:
		// genesis: any prev is accepted only if it's the zero sentinel.
		if ext.PrevHash != ZeroHash && ext.PrevHash != "" {
			return nil, coreerr.New(coreerr.StalePrev, "no tip yet; prev must be the zero sentinel")
		}
	case ext.PrevHash == tip.Hash:
		prev = tip
		prevPtr = &prev
	default:
		prevTip, ok2, perr := sess.PreviousTip()
		if perr != nil {
			return nil, coreerr.Newf(coreerr.StalePrev, "store error: %v", perr)
		}
		if !ok2 || ext.PrevHash != prevTip.Hash || prevTip.Height != tip.Height-1 {
			return nil, coreerr.Newf(coreerr.StalePrev, "submitted prev %s matches neither tip %s nor previous tip", ext.PrevHash, tip.Hash)
		}
		prev = prevTip
		prevPtr = &prev
		graceAccept = true
		log.Warn("accepting header under same-prev-as-previous-tip grace rule", "submitted_prev", ext.PrevHash, "tip", tip.Hash, "previous_tip", prevTip.Hash)
	}

	height := uint32(0)
	tipHeightForMaturity := uint32(0)
	if prevPtr != nil {
		height = prevPtr.Height + 1
		tipHeightForMaturity = prevPtr.Height
	}

	rebuilt := CanonicalTxIDs(height, params.BootstrapOnlyBelowHeight, ext.TxIDsSnapshot)
	rebuiltMerkle := MerkleRoot(rebuilt)

	merkleRoot := rebuiltMerkle
	if height >= params.BootstrapOnlyBelowHeight {
		submitted := strings.ToLower(ext.SubmittedMerkle)
		if submitted != rebuiltMerkle {
			return nil, coreerr.Newf(coreerr.MerkleMismatch, "submitted %s rebuilt %s txids=%d", submitted, rebuiltMerkle, len(rebuilt)).
				WithContext(map[string]any{"submitted_merkle": submitted, "rebuilt_merkle": rebuiltMerkle, "txids_len": len(rebuilt)})
		}
	}

	fields := HeaderFields{
		Version: ext.Version, PrevHash: ext.PrevHash, MerkleRoot: merkleRoot,
		Timestamp: ext.Timestamp, Target: ext.Target, Nonce: ext.Nonce,
		MinerAddress: ext.MinerAddress, TxCount: uint32(len(rebuilt)),
	}
	if verr := ValidateHeader(fields, prevPtr, params.BlockVersion, backend); verr != nil {
		return nil, verr
	}

	// Re-run mempool inclusion for the submitted txids, in submitted order,
	// skipping any that no longer validate.
	nonCoinbase := rebuilt
	if len(nonCoinbase) > 0 && nonCoinbase[0] == CoinbaseTxID(height) {
		nonCoinbase = nonCoinbase[1:]
	}
	build, buildErr := selectCandidatesForTxIDs(sess, params, tipHeightForMaturity, nonCoinbase)
	if buildErr != nil {
		return nil, coreerr.Newf(coreerr.CoinselectFailed, "candidate re-selection: %v", buildErr)
	}

	hh := fields.Hash()
	prevWork := ""
	diff := params.DifficultyInitial
	if prevPtr != nil {
		prevWork = prevPtr.CumulativeWork
		diff = prevPtr.Difficulty
		if diff < 1 {
			diff = 1
		}
	}
	cumWork := addCumulativeWork(prevWork, diff)

	header := store.Header{
		Height: height, Hash: hh, PrevHash: ext.PrevHash, MerkleRoot: merkleRoot,
		Timestamp: fields.Timestamp, Version: fields.Version, Nonce: ext.Nonce,
		Target: ext.Target, MinerAddress: ext.MinerAddress, TxCount: fields.TxCount,
		CumulativeWork: cumWork, Difficulty: diff,
	}

	base := BlockReward(height, params.InitialBlockReward, params.HalvingIntervalBlocks)
	finderShare := SplitReward(base, params.FairnessPoolRatio) + build.TotalFees
	if cerr := CommitBlock(sess, header, ext.MinerAddress, finderShare, build); cerr != nil {
		return nil, coreerr.Newf(coreerr.HeaderInvalid, "commit failed: %v", cerr)
	}

	log.Info("accepted external header", "height", height, "hash", hh, "grace", graceAccept, "txs", len(rebuilt))
	prevHeight := uint32(0)
	if prevPtr != nil {
		prevHeight = prevPtr.Height
	}
	return &AcceptResult{Header: header, PrevHeight: prevHeight, WasGraceAccept: graceAccept}, nil
}

// selectCandidatesForTxIDs mirrors SelectCandidates but walks a specific
// ordered txid list (the submitter's snapshot) instead of re-querying the
// mempool by fee, since the merkle root must match exactly what the
// submitter built.
func selectCandidatesForTxIDs(sess *store.Session, params *chaincfg.Params, tipHeight uint32, txids []string) (BuildResult, error) {
	var res BuildResult
	seen := map[string]bool{}
	sel := ledger.NewSelector(sess)
	for _, txid := range txids {
		if seen[txid] {
			continue
		}
		seen[txid] = true
		e, ok, err := sess.GetMempoolEntry(txid)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		confirmed, err := sess.TxConfirmed(txid)
		if err != nil {
			return res, err
		}
		if confirmed {
			continue
		}
		var tx txn.Tx
		if jsonErr := json.Unmarshal(e.Raw, &tx); jsonErr != nil || len(tx.Inputs) == 0 {
			continue
		}
		if e.FromAddr == "" || e.ToAddr == "" || e.Amount <= 0 || e.Fee < params.MempoolMinFee {
			continue
		}
		need := e.Amount + e.Fee
		used, totalIn, ok2, err := sel.SelectInputs(e.FromAddr, need, tipHeight, params.CoinbaseMaturity)
		if err != nil {
			return res, err
		}
		if !ok2 {
			continue
		}
		res.Candidates = append(res.Candidates, Candidate{Entry: e, Used: used, ChangeAmount: totalIn - need})
		res.TxIDs = append(res.TxIDs, txid)
		res.TotalFees += e.Fee
	}
	return res, nil
}
