// Package threshold implements FROST-style threshold Schnorr signing over
// the Ed25519 curve group (go.dedis.ch/kyber/v3's edwards25519 suite; this
// is not the Ristretto255 group) per spec §4.4: distributed key generation
// with a verifiable transcript, two-round partial signing, aggregation,
// and verification.
package threshold

import (
	"io"

	"github.com/aura-project/aura-core/effects"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/util/random"
)

// group is the prime-order group all scalar/point arithmetic in this
// package operates over.
var group kyber.Group = edwards25519.NewBlakeSHA256Ed25519()

// effectsReader adapts a RandomEffect to an io.Reader so it can feed
// kyber's random.New, keeping every draw of randomness in this package
// routed through the RandomEffect abstraction (spec §6) rather than
// calling crypto/rand or math/rand directly.
type effectsReader struct {
	r effects.RandomEffect
}

func (e effectsReader) Read(p []byte) (int, error) {
	copy(p, e.r.Bytes(len(p)))
	return len(p), nil
}

var _ io.Reader = effectsReader{}

func randomScalar(r effects.RandomEffect) kyber.Scalar {
	return group.Scalar().Pick(random.New(effectsReader{r}))
}

// PointLen and ScalarLen expose the group's fixed encoding lengths, used
// by the transcript and signature wire encodings.
func PointLen() int  { return group.PointLen() }
func ScalarLen() int { return group.ScalarLen() }
