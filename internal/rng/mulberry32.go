// Package rng provides the deterministic pseudo-random source the
// assignment service and the batch simulator use for reproducible
// draws, alongside a production source backed by crypto/rand.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

// Source produces uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Mulberry32 is the seeded generator named in spec §4.4: fast,
// deterministic, and good enough for allocation draws and simulation
// replay (not for anything security-sensitive).
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 creates a generator seeded with the given value. The
// same seed always produces the same sequence of draws.
func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Float64 returns the next draw in [0, 1).
func (m *Mulberry32) Float64() float64 {
	m.state += 0x6D2B79F5
	z := m.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	z ^= z >> 14
	return float64(z) / 4294967296.0
}

// CryptoSource is a mulberry32 generator whose seed is read once from
// crypto/rand at construction; every later draw follows the mulberry32
// sequence from that seed, with no reseeding. This gives production
// callers the same Source interface the deterministic tests use,
// without needing a separate code path through the allocator.
type CryptoSource struct {
	inner *Mulberry32
}

// NewCryptoSource seeds a Mulberry32 from crypto/rand.
func NewCryptoSource() (*CryptoSource, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	seed := binary.BigEndian.Uint32(buf[:])
	return &CryptoSource{inner: NewMulberry32(seed)}, nil
}

// Float64 returns the next draw in [0, 1).
func (c *CryptoSource) Float64() float64 {
	return c.inner.Float64()
}

// Clamp01 keeps a fraction within [0, 1), guarding against floating
// point drift at the boundaries.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}
