// Package pow implements the chain's content hashing, proof-of-work digest
// and big-endian 256-bit target arithmetic. Parameters are fixed consensus
// rules: changing them forks the chain (see chaincfg.Argon2Params).
package pow

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/sha3"
)

// DigestSize is the width, in bytes, of every content hash and PoW digest.
const DigestSize = 32

// ContentHash returns the SHA3-256 digest of b.
func ContentHash(b []byte) [DigestSize]byte {
	return sha3.Sum256(b)
}

// ContentHashHex is ContentHash encoded as lowercase hex.
func ContentHashHex(b []byte) string {
	h := ContentHash(b)
	return hex.EncodeToString(h[:])
}

// Backend computes the memory-hard PoW digest for a candidate header. The
// Argon2id implementation below is the only backend this chain ships; the
// interface exists so an alternate backend (e.g. a native hash library) can
// be swapped in without touching callers, as long as it reproduces Argon2id
// output bit-for-bit for the configured parameters (see design notes —
// any divergence forks the chain).
type Backend interface {
	Digest(headerBytes []byte, nonce uint64, prevHash [DigestSize]byte) [DigestSize]byte
}

// Params are the Argon2id tuning knobs, fixed per chain.
type Params struct {
	TimeCost    uint32
	MemoryMiB   uint32
	Parallelism uint8
}

// Argon2Backend is the reference PoW backend.
type Argon2Backend struct {
	Params Params
}

// NewArgon2Backend builds the reference backend from chain parameters.
func NewArgon2Backend(timeCost, memoryMiB uint32, parallelism uint8) *Argon2Backend {
	return &Argon2Backend{Params: Params{TimeCost: timeCost, MemoryMiB: memoryMiB, Parallelism: parallelism}}
}

// Digest computes pow_digest(header_bytes, nonce, prev_hash): Argon2id
// with secret = header_bytes ‖ LE(nonce), salt = prev_hash (zero-padded to
// 32 bytes when unknown).
func (b *Argon2Backend) Digest(headerBytes []byte, nonce uint64, prevHash [DigestSize]byte) [DigestSize]byte {
	secret := make([]byte, len(headerBytes)+8)
	copy(secret, headerBytes)
	binary.LittleEndian.PutUint64(secret[len(headerBytes):], nonce)

	out := argon2.IDKey(secret, prevHash[:], b.Params.TimeCost, b.Params.MemoryMiB*1024, b.Params.Parallelism, DigestSize)
	var digest [DigestSize]byte
	copy(digest[:], out)
	return digest
}

// maxTarget is 2^256 - 1, the all-ones 256-bit unsigned integer.
func maxTarget() *uint256.Int {
	max := new(uint256.Int)
	return max.Not(max) // bitwise-not of zero is all-ones
}

// TargetFromDifficulty computes (2^256-1) / max(1, d) as a 32-byte
// big-endian unsigned integer (TargetFromDifficultyHex gives its hex form).
func TargetFromDifficulty(d uint64) [DigestSize]byte {
	if d < 1 {
		d = 1
	}
	divisor := uint256.NewInt(d)
	t := new(uint256.Int).Div(maxTarget(), divisor)
	var out [DigestSize]byte
	t.WriteToArray32(&out)
	return out
}

// TargetFromDifficultyHex is TargetFromDifficulty encoded as lowercase hex.
func TargetFromDifficultyHex(d uint64) string {
	t := TargetFromDifficulty(d)
	return hex.EncodeToString(t[:])
}

// MeetsTarget reports whether digest, interpreted as a big-endian unsigned
// 256-bit integer, is <= target.
func MeetsTarget(digest, target [DigestSize]byte) bool {
	d := new(uint256.Int).SetBytes(digest[:])
	t := new(uint256.Int).SetBytes(target[:])
	return d.Cmp(t) <= 0
}

// ParseTargetHex decodes a 64-char lowercase hex target into its 32-byte form.
func ParseTargetHex(s string) ([DigestSize]byte, error) {
	var out [DigestSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != DigestSize {
		return out, errInvalidLength(len(b))
	}
	copy(out[:], b)
	return out, nil
}

type errInvalidLength int

func (e errInvalidLength) Error() string {
	return "pow: target hex must decode to 32 bytes, got " + itoa(int(e))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ShiftLeft returns target shifted left by n bits, saturating at the
// all-ones value (used for the ticket "near target" relaxed threshold:
// target * 2^n).
func ShiftLeft(target [DigestSize]byte, n uint) [DigestSize]byte {
	t := new(uint256.Int).SetBytes(target[:])
	// uint256 Lsh silently drops bits shifted past bit 255; saturate whenever
	// a set bit would be lost so the near-target threshold never wraps.
	var shifted *uint256.Int
	if !t.IsZero() && uint(t.BitLen())+n > 256 {
		shifted = maxTarget()
	} else {
		shifted = new(uint256.Int).Lsh(t, n)
	}
	var out [DigestSize]byte
	shifted.WriteToArray32(&out)
	return out
}
