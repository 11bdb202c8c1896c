package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smellychain/smellynode/store"
)

func TestNextDifficultyStaysAtOneBeforeBootstrap(t *testing.T) {
	d := NextDifficulty(nil, 150, 60, 30, 0.85, 1.15, 1, 500)
	require.Equal(t, uint64(1), d)
}

func TestNextDifficultyRisesWhenBlocksComeFast(t *testing.T) {
	// 30 headers, 1 second apart (much faster than the 60s target) -> ratio
	// clamps to clampHigh, difficulty rises from the last stored difficulty.
	ancestors := make([]store.Header, 30)
	for i := range ancestors {
		ancestors[i] = store.Header{Timestamp: uint64(i), Difficulty: 10}
	}
	d := NextDifficulty(ancestors, 300, 60, 30, 0.85, 1.15, 1, 500)
	require.Equal(t, uint64(12), d) // round(10 * 1.15) == 12
}

func TestNextDifficultyFallsWhenBlocksComeSlow(t *testing.T) {
	ancestors := make([]store.Header, 30)
	for i := range ancestors {
		ancestors[i] = store.Header{Timestamp: uint64(i * 600), Difficulty: 10} // way slower than target
	}
	d := NextDifficulty(ancestors, 300, 60, 30, 0.85, 1.15, 1, 500)
	require.Equal(t, uint64(9), d) // round(10 * 0.85) == 9
}

func TestNextDifficultyClampsToGlobalBounds(t *testing.T) {
	ancestors := make([]store.Header, 30)
	for i := range ancestors {
		ancestors[i] = store.Header{Timestamp: uint64(i), Difficulty: 490}
	}
	d := NextDifficulty(ancestors, 300, 60, 30, 0.85, 1.15, 1, 500)
	require.LessOrEqual(t, d, uint64(500))
}

func TestNextDifficultyUsesOnlyTheLastWindowHeaders(t *testing.T) {
	// 60 ancestors but window=30: the function must trim to the tail 30,
	// so an old, slow prefix must not influence the outcome.
	ancestors := make([]store.Header, 60)
	for i := 0; i < 30; i++ {
		ancestors[i] = store.Header{Timestamp: uint64(i * 600), Difficulty: 10}
	}
	for i := 30; i < 60; i++ {
		ancestors[i] = store.Header{Timestamp: uint64(30*600 + (i-30)*1), Difficulty: 10}
	}
	d := NextDifficulty(ancestors, 300, 60, 30, 0.85, 1.15, 1, 500)
	require.Equal(t, uint64(12), d) // only the fast tail window should count
}
