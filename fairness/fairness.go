// Package fairness implements the near-target credit accrual and epoch
// settlement subsystem: contributors who submit a "near target" proof
// (without necessarily finding a full block) accrue credit units in the
// current epoch; a revenue share of every block reward in a settled epoch
// is split among them proportionally.
package fairness

import (
	"github.com/smellychain/smellynode/consensus"
	"github.com/smellychain/smellynode/internal/metrics"
	"github.com/smellychain/smellynode/store"
)

// EpochBounds returns the [start, end] height range (inclusive) of the
// epoch containing height, for an epoch of the given length.
func EpochBounds(height, length uint32) (start, end uint32) {
	start = (height / length) * length
	end = start + length - 1
	return start, end
}

// EnsureEpoch makes sure the epoch containing height exists, creating it
// unsettled with poolRatio if this is the first block to land in it.
func EnsureEpoch(sess *store.Session, height, length uint32, poolRatio float64) error {
	start, end := EpochBounds(height, length)
	if _, ok, err := sess.GetFairnessEpoch(start); err != nil {
		return err
	} else if ok {
		return nil
	}
	return sess.PutFairnessEpoch(store.FairnessEpoch{
		StartHeight: start, EndHeight: end, PoolRatio: poolRatio, Settled: false,
	})
}

// AccrueNearTargetCredit adds units of credit for addr in the epoch
// containing height.
func AccrueNearTargetCredit(sess *store.Session, height, epochLength uint32, poolRatio float64, addr string, units float64, nowMs int64) error {
	if err := EnsureEpoch(sess, height, epochLength, poolRatio); err != nil {
		return err
	}
	start, _ := EpochBounds(height, epochLength)
	cr, ok, err := sess.GetFairnessCredit(start, addr)
	if err != nil {
		return err
	}
	if !ok {
		cr = store.FairnessCredit{Epoch: start, MinerAddress: addr}
	}
	cr.CreditUnits += units
	cr.LastMs = nowMs
	return sess.PutFairnessCredit(cr)
}

// SettleIfCrossed settles the epoch containing prevTipHeight if newTipHeight
// has crossed into the next one. It is idempotent: an already
// settled epoch is left untouched, and per-epoch reward txids are
// deterministic so re-settlement (should it ever be attempted) creates no
// duplicate UTXOs.
func SettleIfCrossed(sess *store.Session, params FairnessParams, prevTipHeight uint32, newTipHeight uint32) error {
	prevStart, _ := EpochBounds(prevTipHeight, params.EpochLength)
	newStart, _ := EpochBounds(newTipHeight, params.EpochLength)
	if newStart == prevStart {
		return nil
	}
	return Settle(sess, params, prevStart)
}

// FairnessParams is the slice of chain parameters fairness settlement needs,
// passed explicitly rather than importing chaincfg. No import cycle forces
// this; it keeps the package import-light, the way pow keeps its own small
// Params type rather than importing chaincfg.
type FairnessParams struct {
	EpochLength           uint32
	InitialBlockRewardMts int64
	HalvingIntervalBlocks uint32
}

// Settle pays out epoch epochStart if it has unsettled credits.
// Settlement is a no-op, marked settled, if total credit units are zero.
func Settle(sess *store.Session, params FairnessParams, epochStart uint32) error {
	epoch, ok, err := sess.GetFairnessEpoch(epochStart)
	if err != nil {
		return err
	}
	if !ok || epoch.Settled {
		return nil
	}

	credits, err := sess.CreditsForEpoch(epochStart)
	if err != nil {
		return err
	}
	var total float64
	for _, c := range credits {
		total += c.CreditUnits
	}
	if total <= 0 {
		epoch.Settled = true
		if err := sess.PutFairnessEpoch(epoch); err != nil {
			return err
		}
		metrics.FairnessEpochsSettled.Inc()
		return nil
	}

	var totalReward int64
	for h := epoch.StartHeight; h <= epoch.EndHeight; h++ {
		totalReward += consensus.BlockReward(h, params.InitialBlockRewardMts, params.HalvingIntervalBlocks)
	}
	poolValue := int64(float64(totalReward) * epoch.PoolRatio)

	for _, c := range credits {
		share := int64(float64(poolValue) * (c.CreditUnits / total))
		if share <= 0 {
			continue
		}
		txid := consensus.FairnessRewardTxID(epoch.StartHeight, epoch.EndHeight, c.MinerAddress)
		if sess.RewardExists(txid) {
			continue // already paid this epoch's settlement for this miner
		}
		if err := sess.PutReward(store.Reward{
			Height: epoch.EndHeight, MinerAddress: c.MinerAddress, Amount: share,
			CoinbaseTxID: txid, CreatedAtMs: c.LastMs,
		}); err != nil {
			return err
		}
		if err := sess.PutUTXO(store.UTXO{
			TxID: txid, Vout: 0, Address: c.MinerAddress, Amount: share,
			IsCoinbase: false, CreatedHeight: epoch.EndHeight,
		}); err != nil {
			return err
		}
	}

	epoch.Settled = true
	if err := sess.PutFairnessEpoch(epoch); err != nil {
		return err
	}
	metrics.FairnessEpochsSettled.Inc()
	return nil
}
