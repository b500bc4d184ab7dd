package capability

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/aura-project/aura-core/idhash"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, idhash.AuthorityId, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	authority := idhash.AuthorityId{1, 2, 3}
	eng := NewEngine(authority, priv, []byte("0123456789abcdef0123456789abcdef"[:32]))
	eng.TrustPublicKey(authority, pub)
	return eng, authority, pub
}

func TestIssueBoundRequiresChallenge(t *testing.T) {
	eng, _, _ := newEngine(t)
	subject := DeviceSubject(idhash.DeviceId{9})
	_, err := eng.IssueBound(subject, []Permission{{Action: ActionRead, Resource: "journal"}}, 1000, nil, nil)
	require.Error(t, err)
}

func TestIssueBoundAndValidateSucceeds(t *testing.T) {
	eng, _, _ := newEngine(t)
	subject := DeviceSubject(idhash.DeviceId{9})
	perms := []Permission{{Action: ActionRead, Resource: "journal"}}
	ttl := time.Hour

	cap, err := eng.IssueBound(subject, perms, 1000, &ttl, []byte("nonce-1"))
	require.NoError(t, err)
	require.NoError(t, eng.Validate(cap, 2000))
	require.True(t, cap.Satisfies(ActionRead, "journal"))
	require.False(t, cap.Satisfies(ActionWrite, "journal"))
}

func TestValidateRejectsExpiredCapability(t *testing.T) {
	eng, _, _ := newEngine(t)
	subject := DeviceSubject(idhash.DeviceId{9})
	ttl := time.Millisecond

	cap, err := eng.IssueBound(subject, nil, 1000, &ttl, []byte("nonce-1"))
	require.NoError(t, err)
	err = eng.Validate(cap, 1000+time.Hour.Milliseconds())
	require.Error(t, err)
}

func TestRevokeMakesValidateFail(t *testing.T) {
	eng, _, _ := newEngine(t)
	subject := DeviceSubject(idhash.DeviceId{9})

	cap, err := eng.IssueBound(subject, nil, 1000, nil, []byte("nonce-1"))
	require.NoError(t, err)
	require.NoError(t, eng.Validate(cap, 2000))

	eng.Revoke(cap)
	require.Error(t, eng.Validate(cap, 2000))
}

func TestDelegateNarrowsPermissionsAndRequiresDelegateGrant(t *testing.T) {
	eng, _, _ := newEngine(t)
	subject := DeviceSubject(idhash.DeviceId{9})
	perms := []Permission{
		{Action: ActionRead, Resource: "journal"},
		{Action: ActionDelegate, Resource: "journal"},
	}

	parent, err := eng.IssueBound(subject, perms, 1000, nil, []byte("nonce-1"))
	require.NoError(t, err)

	delegatorAuthority := idhash.AuthorityId{4, 5, 6}
	_, delegatorPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	eng.TrustPublicKey(delegatorAuthority, delegatorPriv.Public().(ed25519.PublicKey))

	child, err := eng.Delegate(parent, delegatorAuthority, delegatorPriv, []Permission{{Action: ActionRead, Resource: "journal"}}, 1500)
	require.NoError(t, err)
	require.True(t, child.Satisfies(ActionRead, "journal"))
	require.Len(t, child.Chain, 1)

	_, err = eng.Delegate(parent, delegatorAuthority, delegatorPriv, []Permission{{Action: ActionWrite, Resource: "journal"}}, 1500)
	require.Error(t, err)
}
