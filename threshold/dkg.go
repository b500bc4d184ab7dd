package threshold

import (
	"fmt"
	"sort"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/effects"
	"github.com/aura-project/aura-core/idhash"
	"go.dedis.ch/kyber/v3"
)

// ParticipantIndex identifies one DKG/signing participant by its position
// in the group (1-indexed; index 0 is reserved as "no participant" in
// Lagrange interpolation).
type ParticipantIndex int

// polynomial is a degree-(threshold-1) polynomial over the scalar field,
// used for each participant's Feldman VSS contribution.
type polynomial struct {
	coeffs []kyber.Scalar
}

func newRandomPolynomial(degree int, r effects.RandomEffect) polynomial {
	coeffs := make([]kyber.Scalar, degree+1)
	for i := range coeffs {
		coeffs[i] = randomScalar(r)
	}
	return polynomial{coeffs: coeffs}
}

// evaluate computes f(x) for x = ParticipantIndex, via Horner's method.
func (p polynomial) evaluate(x ParticipantIndex) kyber.Scalar {
	xs := group.Scalar().SetInt64(int64(x))
	result := group.Scalar().Zero()
	for i := len(p.coeffs) - 1; i >= 0; i-- {
		result = result.Mul(result, xs)
		result = result.Add(result, p.coeffs[i])
	}
	return result
}

// commitments returns g^{a_k} for every coefficient a_k, the public
// commitment a peer verifies its received share against.
func (p polynomial) commitments() []kyber.Point {
	out := make([]kyber.Point, len(p.coeffs))
	for i, c := range p.coeffs {
		out[i] = group.Point().Mul(c, nil)
	}
	return out
}

// Transcript is the canonical, hashable record of every participant's
// polynomial commitments plus the resulting group public key. Two
// participants given the same set of per-participant commitments compute
// an identical transcript hash; a mismatch means the DKG failed.
type Transcript struct {
	Threshold    int
	Participants []ParticipantIndex
	Commitments  map[ParticipantIndex][]kyber.Point
	GroupPublic  kyber.Point
}

// Hash returns the content hash binding every commitment in the
// transcript in a deterministic (index-sorted) order.
func (t Transcript) Hash() idhash.Hash32 {
	indices := append([]ParticipantIndex(nil), t.Participants...)
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var chunks [][]byte
	for _, idx := range indices {
		idxBuf := []byte(fmt.Sprintf("%d", idx))
		chunks = append(chunks, idxBuf)
		for _, pt := range t.Commitments[idx] {
			b, _ := pt.MarshalBinary()
			chunks = append(chunks, b)
		}
	}
	gpBytes, _ := t.GroupPublic.MarshalBinary()
	chunks = append(chunks, gpBytes)
	return idhash.Sum(chunks...)
}

// Result is the output of a completed DKG run: each participant's final
// secret share, the group public key, and the transcript that binds them.
type Result struct {
	Shares      map[ParticipantIndex]kyber.Scalar
	GroupPublic kyber.Point
	Transcript  Transcript
}

// DKG runs a joint Feldman VSS-based distributed key generation among
// participants with the given threshold. Every participant contributes a
// random polynomial; each other participant's share is the sum of every
// contributor's polynomial evaluated at that participant's index, and the
// group public key is the sum of every contributor's constant-term
// commitment. Fewer than threshold participants' shares cannot recover
// the group secret, since no single polynomial's full set of
// coefficients is ever reconstructed from fewer than degree+1 points.
func DKG(participants []ParticipantIndex, threshold int, r effects.RandomEffect) (*Result, error) {
	if threshold < 1 || threshold > len(participants) {
		return nil, aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeDKGTranscriptMismatch,
			fmt.Sprintf("invalid threshold %d for %d participants", threshold, len(participants)))
	}

	degree := threshold - 1
	polys := make(map[ParticipantIndex]polynomial, len(participants))
	commitments := make(map[ParticipantIndex][]kyber.Point, len(participants))
	for _, p := range participants {
		poly := newRandomPolynomial(degree, r)
		polys[p] = poly
		commitments[p] = poly.commitments()
	}

	shares := make(map[ParticipantIndex]kyber.Scalar, len(participants))
	for _, recipient := range participants {
		total := group.Scalar().Zero()
		for _, contributor := range participants {
			total = total.Add(total, polys[contributor].evaluate(recipient))
		}
		shares[recipient] = total
	}

	groupPublic := group.Point().Null()
	for _, contributor := range participants {
		groupPublic = groupPublic.Add(groupPublic, commitments[contributor][0])
	}

	transcript := Transcript{
		Threshold:    threshold,
		Participants: append([]ParticipantIndex(nil), participants...),
		Commitments:  commitments,
		GroupPublic:  groupPublic,
	}

	return &Result{Shares: shares, GroupPublic: groupPublic, Transcript: transcript}, nil
}

// lagrangeCoefficient computes the Lagrange basis polynomial for index i
// evaluated at x = 0, over the given set of participant indices, used to
// interpolate the group secret (implicitly) from any threshold-sized
// subset of shares without ever materializing the secret itself.
func lagrangeCoefficient(i ParticipantIndex, indices []ParticipantIndex) kyber.Scalar {
	num := group.Scalar().One()
	den := group.Scalar().One()
	xi := group.Scalar().SetInt64(int64(i))

	for _, j := range indices {
		if j == i {
			continue
		}
		xj := group.Scalar().SetInt64(int64(j))
		num = num.Mul(num, group.Scalar().Neg(xj))
		diff := group.Scalar().Sub(xi, xj)
		den = den.Mul(den, diff)
	}
	return num.Div(num, den)
}
