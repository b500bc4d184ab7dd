package threshold

import (
	"fmt"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/effects"
	"github.com/aura-project/aura-core/idhash"
	"go.dedis.ch/kyber/v3"
)

// NonceCommitment is round 1's output: a participant commits to a fresh
// random nonce without revealing it, binding the commitment to its
// identity for round 2.
type NonceCommitment struct {
	Participant ParticipantIndex
	D, E        kyber.Point // commitments to the hiding/binding nonce pair
}

// nonceSecret is round 1's private state, retained by the participant
// between round1 and round2 and never transmitted.
type nonceSecret struct {
	d, e kyber.Scalar
}

// Round1 generates a fresh hiding/binding nonce pair for participant and
// returns its public commitment plus the private nonce secret to retain
// for Round2. Per FROST, a fresh pair is drawn for every signing session;
// reusing nonces across messages breaks the scheme's security.
func Round1(participant ParticipantIndex, r effects.RandomEffect) (NonceCommitment, nonceSecretHandle) {
	d := randomScalar(r)
	e := randomScalar(r)
	commitment := NonceCommitment{
		Participant: participant,
		D:           group.Point().Mul(d, nil),
		E:           group.Point().Mul(e, nil),
	}
	return commitment, nonceSecretHandle{secret: nonceSecret{d: d, e: e}}
}

// nonceSecretHandle wraps a participant's round-1 private nonce state so
// callers carry it opaquely between Round1 and Round2 without being able
// to inspect or serialize it (it must never cross a process boundary).
type nonceSecretHandle struct {
	secret nonceSecret
}

// bindingFactor computes FROST's per-participant binding factor rho_i,
// derived from the message and every participant's round-1 commitments,
// preventing a Wagner-style rogue-nonce attack across the commitment set.
func bindingFactor(participant ParticipantIndex, message []byte, commitments []NonceCommitment) kyber.Scalar {
	var chunks [][]byte
	idx := []byte{byte(participant >> 24), byte(participant >> 16), byte(participant >> 8), byte(participant)}
	chunks = append(chunks, idx, message)
	for _, c := range commitments {
		dBytes, _ := c.D.MarshalBinary()
		eBytes, _ := c.E.MarshalBinary()
		chunks = append(chunks, dBytes, eBytes)
	}
	h := idhash.Sum(chunks...)
	return group.Scalar().SetBytes(h[:])
}

// groupCommitment computes R = sum_i (D_i + rho_i * E_i), the aggregate
// nonce commitment every partial signature's challenge is computed
// against.
func groupCommitment(message []byte, commitments []NonceCommitment) kyber.Point {
	r := group.Point().Null()
	for _, c := range commitments {
		rho := bindingFactor(c.Participant, message, commitments)
		term := group.Point().Add(c.D, group.Point().Mul(rho, c.E))
		r = r.Add(r, term)
	}
	return r
}

// challenge computes the Schnorr challenge c = H(R || Y || message),
// mapped into the scalar field.
func challenge(r, groupPublic kyber.Point, message []byte) kyber.Scalar {
	rBytes, _ := r.MarshalBinary()
	yBytes, _ := groupPublic.MarshalBinary()
	h := idhash.Sum(rBytes, yBytes, message)
	return group.Scalar().SetBytes(h[:])
}

// PartialSignature is one participant's round-2 contribution.
type PartialSignature struct {
	Participant ParticipantIndex
	Z           kyber.Scalar
}

// Round2 computes participant's partial signature over message, given its
// long-term share, its round-1 nonce secret, every participant's round-1
// commitments, and the signing set's full index list (for the Lagrange
// coefficient).
func Round2(participant ParticipantIndex, share kyber.Scalar, nonce nonceSecretHandle, message []byte, commitments []NonceCommitment, signingSet []ParticipantIndex, groupPublic kyber.Point) PartialSignature {
	rho := bindingFactor(participant, message, commitments)
	r := groupCommitment(message, commitments)
	c := challenge(r, groupPublic, message)
	lambda := lagrangeCoefficient(participant, signingSet)

	// z_i = d_i + e_i*rho_i + lambda_i*s_i*c
	z := group.Scalar().Add(nonce.secret.d, group.Scalar().Mul(nonce.secret.e, rho))
	z = z.Add(z, group.Scalar().Mul(group.Scalar().Mul(lambda, share), c))

	return PartialSignature{Participant: participant, Z: z}
}

// Signature is a standard 64-byte Schnorr signature: 32-byte R followed
// by 32-byte z, indistinguishable from a single-signer signature over the
// same group public key.
type Signature struct {
	R kyber.Point
	Z kyber.Scalar
}

// Bytes serializes the signature to its 64-byte wire form.
func (s Signature) Bytes() []byte {
	rBytes, _ := s.R.MarshalBinary()
	zBytes, _ := s.Z.MarshalBinary()
	return append(append([]byte{}, rBytes...), zBytes...)
}

// Aggregate combines partial signatures from a threshold-sized signing
// set into a single Schnorr signature over groupPublic. The result
// verifies with Verify exactly like a single-signer signature; it reveals
// nothing about which subset of participants produced it.
func Aggregate(message []byte, partials []PartialSignature, commitments []NonceCommitment, groupPublic kyber.Point) (*Signature, error) {
	if len(partials) == 0 {
		return nil, aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeAggregationFailed, "no partial signatures supplied")
	}
	r := groupCommitment(message, commitments)
	z := group.Scalar().Zero()
	for _, p := range partials {
		z = z.Add(z, p.Z)
	}
	return &Signature{R: r, Z: z}, nil
}

// Verify reports whether sig is a valid signature over message under
// groupPublic: the standard Schnorr check g^z == R + c*Y.
func Verify(sig *Signature, message []byte, groupPublic kyber.Point) bool {
	c := challenge(sig.R, groupPublic, message)
	lhs := group.Point().Mul(sig.Z, nil)
	rhs := group.Point().Add(sig.R, group.Point().Mul(c, groupPublic))
	return lhs.Equal(rhs)
}
