// Package entropy supplies the seed for a run's random source. A fixed seed
// reproduces a run exactly; without one a seed is drawn from crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	mrand "math/rand"
	"time"
)

// Seed returns fixed when it is non-zero, otherwise a fresh seed.
func Seed(fixed int64) int64 {
	if fixed != 0 {
		return fixed
	}
	return seedFrom(rand.Reader)
}

func seedFrom(r io.Reader) int64 {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		// Should never happen with crypto/rand; the clock is good enough then.
		slog.Warn("crypto seed unavailable, using clock", "error", err)
		return time.Now().UnixNano()
	}
	s := int64(binary.LittleEndian.Uint64(buf[:]) & math.MaxInt64)
	if s == 0 {
		s = 1
	}
	return s
}

// Source derives an independent stream for one consumer of a run seed, so
// adding a consumer does not shift the draws of the others.
func Source(seed int64, stream int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed + stream*7919))
}
