package pow

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func lessOrEqual(a, b [DigestSize]byte) bool {
	for i := 0; i < DigestSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return true
}

func TestTargetFromDifficultyMonotonic(t *testing.T) {
	t1 := TargetFromDifficulty(1)
	t2 := TargetFromDifficulty(2)
	require.True(t, lessOrEqual(t2, t1), "target for difficulty 2 must not exceed target for difficulty 1")
	require.NotEqual(t, t1, t2)
}

func TestTargetFromDifficultyFloorsToOne(t *testing.T) {
	require.Equal(t, TargetFromDifficulty(0), TargetFromDifficulty(1))
}

func TestMeetsTarget(t *testing.T) {
	var lo, hi [DigestSize]byte
	hi[0] = 0xff
	require.True(t, MeetsTarget(lo, hi))
	require.False(t, MeetsTarget(hi, lo))
	require.True(t, MeetsTarget(lo, lo))
}

func TestArgon2BackendDeterministic(t *testing.T) {
	b := NewArgon2Backend(1, 8, 1)
	header := []byte("header-bytes")
	var prev [DigestSize]byte
	prev[0] = 1

	d1 := b.Digest(header, 42, prev)
	d2 := b.Digest(header, 42, prev)
	require.Equal(t, d1, d2, "same inputs must produce the same digest")

	d3 := b.Digest(header, 43, prev)
	require.NotEqual(t, d1, d3, "different nonce must change the digest")

	d4 := b.Digest(header, 42, [DigestSize]byte{2})
	require.NotEqual(t, d1, d4, "different salt (prev hash) must change the digest")
}

func TestParseTargetHexRoundTrip(t *testing.T) {
	want := TargetFromDifficultyHex(17)
	got, err := ParseTargetHex(want)
	require.NoError(t, err)
	require.Equal(t, want, hex.EncodeToString(got[:]))
}

func TestParseTargetHexRejectsBadLength(t *testing.T) {
	_, err := ParseTargetHex("abcd")
	require.Error(t, err)
}

func TestShiftLeftSaturates(t *testing.T) {
	var allOnes [DigestSize]byte
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	shifted := ShiftLeft(allOnes, 12)
	require.Equal(t, allOnes, shifted, "shifting the max target must saturate, not wrap")
}

func TestShiftLeftWidensNearTargetThreshold(t *testing.T) {
	target := TargetFromDifficulty(500)
	near := ShiftLeft(target, 12)
	require.True(t, lessOrEqual(target, near), "near-target threshold must be >= the real target")
}

func TestContentHashStable(t *testing.T) {
	h1 := ContentHashHex([]byte("COINBASE:5"))
	h2 := ContentHashHex([]byte("COINBASE:5"))
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}
