// Package random provides the seedable random streams used by the simulation.
// A Source can be captured and restored mid-stream so a restored engine draws
// the same numbers as the one it was taken from.
package random

import (
	"math/rand/v2"
	"time"

	"github.com/yanun0323/errors"
)

// streamMix is the second PCG word; streams differ by seed only.
const streamMix = 0x9e3779b97f4a7c15

// Source is a PCG-backed random stream.
type Source struct {
	*rand.Rand
	pcg *rand.PCG
}

// New creates a stream. Seed 0 seeds from the wall clock.
func New(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	pcg := rand.NewPCG(uint64(seed), streamMix)
	return &Source{Rand: rand.New(pcg), pcg: pcg}
}

// Reseed restarts the stream from seed.
func (s *Source) Reseed(seed int64) {
	s.pcg.Seed(uint64(seed), streamMix)
}

// MarshalBinary captures the position of the stream.
func (s *Source) MarshalBinary() ([]byte, error) {
	return s.pcg.MarshalBinary()
}

// UnmarshalBinary moves the stream to a position captured by MarshalBinary.
func (s *Source) UnmarshalBinary(data []byte) error {
	if err := s.pcg.UnmarshalBinary(data); err != nil {
		return errors.Wrap(err, "restore random stream")
	}
	return nil
}
