package threshold

import (
	"testing"

	"github.com/aura-project/aura-core/effects"
	"github.com/stretchr/testify/require"
)

func testParticipants(n int) []ParticipantIndex {
	out := make([]ParticipantIndex, n)
	for i := range out {
		out[i] = ParticipantIndex(i + 1)
	}
	return out
}

func TestDKGProducesMatchingGroupPublicAcrossAllShares(t *testing.T) {
	r := effects.NewSeeded(1)
	participants := testParticipants(5)

	result, err := DKG(participants, 3, r)
	require.NoError(t, err)
	require.Len(t, result.Shares, 5)
	require.NotNil(t, result.GroupPublic)

	// Threshold-sized subsets covering every share each interpolate to the
	// group public key.
	for _, subset := range [][]ParticipantIndex{participants[:3], participants[2:]} {
		recovered := group.Point().Null()
		for _, p := range subset {
			weighted := group.Scalar().Mul(lagrangeCoefficient(p, subset), result.Shares[p])
			recovered = recovered.Add(recovered, group.Point().Mul(weighted, nil))
		}
		require.True(t, recovered.Equal(result.GroupPublic))
	}
}

func TestDKGRejectsInvalidThreshold(t *testing.T) {
	r := effects.NewSeeded(1)
	participants := testParticipants(3)

	_, err := DKG(participants, 0, r)
	require.Error(t, err)

	_, err = DKG(participants, 4, r)
	require.Error(t, err)
}

func TestTranscriptHashIsDeterministicAcrossRecomputation(t *testing.T) {
	r := effects.NewSeeded(42)
	participants := testParticipants(4)
	result, err := DKG(participants, 2, r)
	require.NoError(t, err)

	h1 := result.Transcript.Hash()
	h2 := result.Transcript.Hash()
	require.Equal(t, h1, h2)
}

// TestSignAggregateVerifyRoundTrips exercises invariant 5: any threshold-
// sized subset of valid partial signatures aggregates to a signature that
// Verify accepts.
func TestSignAggregateVerifyRoundTrips(t *testing.T) {
	r := effects.NewSeeded(7)
	participants := testParticipants(5)
	threshold := 3

	result, err := DKG(participants, threshold, r)
	require.NoError(t, err)

	signingSet := participants[:threshold]
	message := []byte("aura handshake transcript binding")

	commitments := make([]NonceCommitment, 0, threshold)
	secrets := make(map[ParticipantIndex]nonceSecretHandle, threshold)
	for _, p := range signingSet {
		commit, secret := Round1(p, r)
		commitments = append(commitments, commit)
		secrets[p] = secret
	}

	partials := make([]PartialSignature, 0, threshold)
	for _, p := range signingSet {
		partial := Round2(p, result.Shares[p], secrets[p], message, commitments, signingSet, result.GroupPublic)
		partials = append(partials, partial)
	}

	sig, err := Aggregate(message, partials, commitments, result.GroupPublic)
	require.NoError(t, err)
	require.True(t, Verify(sig, message, result.GroupPublic))
}

// TestSignFailsVerificationWithTamperedMessage checks that a valid
// aggregate signature does not verify against a different message.
func TestSignFailsVerificationWithTamperedMessage(t *testing.T) {
	r := effects.NewSeeded(11)
	participants := testParticipants(3)
	threshold := 2

	result, err := DKG(participants, threshold, r)
	require.NoError(t, err)

	signingSet := participants[:threshold]
	message := []byte("original payload")

	commitments := make([]NonceCommitment, 0, threshold)
	secrets := make(map[ParticipantIndex]nonceSecretHandle, threshold)
	for _, p := range signingSet {
		commit, secret := Round1(p, r)
		commitments = append(commitments, commit)
		secrets[p] = secret
	}

	partials := make([]PartialSignature, 0, threshold)
	for _, p := range signingSet {
		partials = append(partials, Round2(p, result.Shares[p], secrets[p], message, commitments, signingSet, result.GroupPublic))
	}

	sig, err := Aggregate(message, partials, commitments, result.GroupPublic)
	require.NoError(t, err)
	require.False(t, Verify(sig, []byte("tampered payload"), result.GroupPublic))
}

// TestAggregateRejectsEmptyPartialSet documents that Aggregate requires at
// least one partial signature; the caller is responsible for ensuring the
// signing set actually reached threshold before calling it.
func TestAggregateRejectsEmptyPartialSet(t *testing.T) {
	r := effects.NewSeeded(3)
	participants := testParticipants(3)
	result, err := DKG(participants, 2, r)
	require.NoError(t, err)

	_, err = Aggregate([]byte("msg"), nil, nil, result.GroupPublic)
	require.Error(t, err)
}

// TestDifferentSigningSubsetsProduceVerifyingSignatures confirms that any
// threshold-sized subset (not just a fixed prefix) of participants can
// jointly produce a verifying signature, per FROST's subset-independence
// property.
func TestDifferentSigningSubsetsProduceVerifyingSignatures(t *testing.T) {
	r := effects.NewSeeded(99)
	participants := testParticipants(5)
	threshold := 3

	result, err := DKG(participants, threshold, r)
	require.NoError(t, err)

	message := []byte("subset independence check")

	for _, signingSet := range [][]ParticipantIndex{
		{participants[0], participants[1], participants[2]},
		{participants[1], participants[3], participants[4]},
		{participants[0], participants[2], participants[4]},
	} {
		commitments := make([]NonceCommitment, 0, threshold)
		secrets := make(map[ParticipantIndex]nonceSecretHandle, threshold)
		for _, p := range signingSet {
			commit, secret := Round1(p, r)
			commitments = append(commitments, commit)
			secrets[p] = secret
		}

		partials := make([]PartialSignature, 0, threshold)
		for _, p := range signingSet {
			partials = append(partials, Round2(p, result.Shares[p], secrets[p], message, commitments, signingSet, result.GroupPublic))
		}

		sig, err := Aggregate(message, partials, commitments, result.GroupPublic)
		require.NoError(t, err)
		require.True(t, Verify(sig, message, result.GroupPublic))
	}
}
