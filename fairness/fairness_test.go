package fairness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smellychain/smellynode/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chain.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEpochBounds(t *testing.T) {
	start, end := EpochBounds(45, 20)
	require.Equal(t, uint32(40), start)
	require.Equal(t, uint32(59), end)

	start, end = EpochBounds(0, 20)
	require.Equal(t, uint32(0), start)
	require.Equal(t, uint32(19), end)
}

func TestEnsureEpochIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(sess *store.Session) error {
		if err := EnsureEpoch(sess, 5, 20, 0.30); err != nil {
			return err
		}
		return EnsureEpoch(sess, 15, 20, 0.99) // same epoch; must not overwrite
	})
	require.NoError(t, err)

	err = s.View(func(sess *store.Session) error {
		e, ok, err := sess.GetFairnessEpoch(0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 0.30, e.PoolRatio)
		require.False(t, e.Settled)
		return nil
	})
	require.NoError(t, err)
}

func TestAccrueNearTargetCreditAccumulates(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(sess *store.Session) error {
		if err := AccrueNearTargetCredit(sess, 5, 20, 0.30, "alice", 1.0, 100); err != nil {
			return err
		}
		return AccrueNearTargetCredit(sess, 6, 20, 0.30, "alice", 2.0, 200)
	})
	require.NoError(t, err)

	err = s.View(func(sess *store.Session) error {
		cr, ok, err := sess.GetFairnessCredit(0, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 3.0, cr.CreditUnits)
		require.Equal(t, int64(200), cr.LastMs)
		return nil
	})
	require.NoError(t, err)
}

func TestSettleSplitsPoolValueProportionally(t *testing.T) {
	s := openTestStore(t)
	params := FairnessParams{EpochLength: 20, InitialBlockRewardMts: 50_00000000, HalvingIntervalBlocks: 210000}

	require.NoError(t, s.Update(func(sess *store.Session) error {
		if err := EnsureEpoch(sess, 0, 20, 0.30); err != nil {
			return err
		}
		if err := AccrueNearTargetCredit(sess, 0, 20, 0.30, "alice", 1.0, 10); err != nil {
			return err
		}
		return AccrueNearTargetCredit(sess, 0, 20, 0.30, "bob", 3.0, 20)
	}))

	require.NoError(t, s.Update(func(sess *store.Session) error {
		return Settle(sess, params, 0)
	}))

	totalReward := int64(20) * params.InitialBlockRewardMts
	poolValue := int64(float64(totalReward) * 0.30)
	wantAlice := int64(float64(poolValue) * 0.25)
	wantBob := int64(float64(poolValue) * 0.75)

	err := s.View(func(sess *store.Session) error {
		epoch, ok, err := sess.GetFairnessEpoch(0)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, epoch.Settled)

		aliceUTXOs, err := utxosFor(sess, "alice")
		require.NoError(t, err)
		require.Len(t, aliceUTXOs, 1)
		require.Equal(t, wantAlice, aliceUTXOs[0].Amount)

		bobUTXOs, err := utxosFor(sess, "bob")
		require.NoError(t, err)
		require.Len(t, bobUTXOs, 1)
		require.Equal(t, wantBob, bobUTXOs[0].Amount)
		return nil
	})
	require.NoError(t, err)
}

func TestSettleIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	params := FairnessParams{EpochLength: 20, InitialBlockRewardMts: 50_00000000, HalvingIntervalBlocks: 210000}

	require.NoError(t, s.Update(func(sess *store.Session) error {
		if err := EnsureEpoch(sess, 0, 20, 0.30); err != nil {
			return err
		}
		return AccrueNearTargetCredit(sess, 0, 20, 0.30, "alice", 1.0, 10)
	}))
	require.NoError(t, s.Update(func(sess *store.Session) error { return Settle(sess, params, 0) }))
	require.NoError(t, s.Update(func(sess *store.Session) error { return Settle(sess, params, 0) }))

	err := s.View(func(sess *store.Session) error {
		aliceUTXOs, err := utxosFor(sess, "alice")
		require.NoError(t, err)
		require.Len(t, aliceUTXOs, 1, "re-settling an already-settled epoch must not duplicate rewards")
		return nil
	})
	require.NoError(t, err)
}

func TestSettleIfCrossedOnlySettlesOnBoundaryCrossing(t *testing.T) {
	s := openTestStore(t)
	params := FairnessParams{EpochLength: 20, InitialBlockRewardMts: 50_00000000, HalvingIntervalBlocks: 210000}

	require.NoError(t, s.Update(func(sess *store.Session) error {
		if err := EnsureEpoch(sess, 5, 20, 0.30); err != nil {
			return err
		}
		return AccrueNearTargetCredit(sess, 5, 20, 0.30, "alice", 1.0, 10)
	}))

	// Same epoch: no settlement should occur.
	require.NoError(t, s.Update(func(sess *store.Session) error {
		return SettleIfCrossed(sess, params, 5, 10)
	}))
	err := s.View(func(sess *store.Session) error {
		e, _, err := sess.GetFairnessEpoch(0)
		require.NoError(t, err)
		require.False(t, e.Settled)
		return nil
	})
	require.NoError(t, err)

	// Crossing into height 20 settles epoch [0,19].
	require.NoError(t, s.Update(func(sess *store.Session) error {
		return SettleIfCrossed(sess, params, 19, 20)
	}))
	err = s.View(func(sess *store.Session) error {
		e, _, err := sess.GetFairnessEpoch(0)
		require.NoError(t, err)
		require.True(t, e.Settled)
		return nil
	})
	require.NoError(t, err)
}

func utxosFor(sess *store.Session, addr string) ([]store.UTXO, error) {
	return sess.UTXOsForAddress(addr)
}
