// Package effects defines the two ambient collaborators the authority core
// draws from rather than calling wall-clock or randomness primitives
// directly: PhysicalTimeEffect and RandomEffect. Every ceremony deadline,
// recovery window, nonce, and DKG commitment is drawn from an Effect value
// threaded through the call, so simulation and property tests can swap in
// deterministic implementations without touching core logic.
package effects

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/aura-project/aura-core/clock"
)

// PhysicalTimeEffect returns the current time as milliseconds since the
// Unix epoch. No component calls time.Now directly; everything reads
// through this so a deterministic test variant can drive ceremony
// timeouts and recovery windows without real sleeps.
type PhysicalTimeEffect interface {
	NowMs() int64
}

// wallClockTime is the production PhysicalTimeEffect, backed by a
// clock.Clock (real or test).
type wallClockTime struct {
	c clock.Clock
}

// NewPhysicalTime wraps a clock.Clock as a PhysicalTimeEffect.
func NewPhysicalTime(c clock.Clock) PhysicalTimeEffect {
	return &wallClockTime{c: c}
}

func (w *wallClockTime) NowMs() int64 {
	return w.c.Now().UnixNano() / int64(time.Millisecond)
}

// RandomEffect produces randomness for DKG nonces, signing nonces, and
// receipt/ceremony/recovery ID generation. Production code draws from a
// CSPRNG; deterministic simulations draw from a seeded stream so a failing
// property test can be replayed exactly.
type RandomEffect interface {
	// Bytes fills and returns n cryptographically-relevant random bytes.
	Bytes(n int) []byte
	// Uint64 returns a uniformly distributed random uint64.
	Uint64() uint64
}

// csprngRandom is the production RandomEffect, backed by crypto/rand.
type csprngRandom struct{}

// NewCSPRNG returns the production RandomEffect.
func NewCSPRNG() RandomEffect { return csprngRandom{} }

func (csprngRandom) Bytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// broken; there is no sane recovery, so this mirrors the
		// stdlib's own documented behavior of treating it as fatal.
		panic("effects: crypto/rand failure: " + err.Error())
	}
	return b
}

func (csprngRandom) Uint64() uint64 {
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic("effects: crypto/rand failure: " + err.Error())
	}
	return n.Uint64()
}

// seededRandom is a deterministic RandomEffect for tests and simulation,
// backed by a seeded math/rand source so a failing scenario can be
// reproduced exactly from its seed.
type seededRandom struct {
	mu  sync.Mutex
	rnd *mathrand.Rand
}

// NewSeeded returns a deterministic RandomEffect seeded with seed.
func NewSeeded(seed int64) RandomEffect {
	return &seededRandom{rnd: mathrand.New(mathrand.NewSource(seed))}
}

func (s *seededRandom) Bytes(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, n)
	_, _ = s.rnd.Read(b)
	return b
}

func (s *seededRandom) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Uint64()
}

var (
	_ PhysicalTimeEffect = (*wallClockTime)(nil)
	_ RandomEffect       = csprngRandom{}
	_ RandomEffect       = (*seededRandom)(nil)
)
