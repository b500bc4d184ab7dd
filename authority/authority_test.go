package authority

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aura-project/aura-core/capability"
	"github.com/aura-project/aura-core/config"
	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/journal"
	"github.com/aura-project/aura-core/storage"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	id, err := idhash.NewAuthorityId(crand.Reader)
	require.NoError(t, err)
	_, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)
	return Deps{
		ID:           id,
		SigningKey:   priv,
		MasterSecret: []byte("test-master-secret"),
		Backend:      storage.NewMemory(),
		Config:       config.DefaultConfig(),
	}
}

func TestNewWiresEverySubsystem(t *testing.T) {
	a := New(testDeps(t))
	require.NotNil(t, a.Journal)
	require.NotNil(t, a.Tree)
	require.NotNil(t, a.Caps)
	require.NotNil(t, a.Budgets)
	require.NotNil(t, a.Ceremonies)
	require.NotNil(t, a.Recovery)
	require.False(t, a.IsStarted())
}

func TestStartIsIdempotent(t *testing.T) {
	a := New(testDeps(t))
	require.NoError(t, a.Start(context.Background()))
	require.True(t, a.IsStarted())
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
}

func TestStopIsIdempotent(t *testing.T) {
	a := New(testDeps(t))
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())
}

func TestDefaultPermissionsAreRegistered(t *testing.T) {
	a := New(testDeps(t))
	perm, ok := a.RequiredPermission("amp.send")
	require.True(t, ok)
	require.Equal(t, capability.ActionWrite, perm.Action)

	_, ok = a.RequiredPermission("nonexistent.operation")
	require.False(t, ok)
}

func TestSetPermissionOverridesDefault(t *testing.T) {
	a := New(testDeps(t))
	a.SetPermission("amp.send", capability.Permission{Action: capability.ActionAdmin, Resource: "amp:channel"})
	perm, ok := a.RequiredPermission("amp.send")
	require.True(t, ok)
	require.Equal(t, capability.ActionAdmin, perm.Action)
}

// stringPayload is a minimal journal.Payload for exercising anti-entropy
// sync without pulling in any kind-specific package.
type stringPayload string

func (p stringPayload) Bytes() []byte                    { return []byte(p) }
func (p stringPayload) MergePolicy() journal.MergePolicy { return journal.MergeGrowOnly }

func TestAntiEntropySyncMergesMissingFacts(t *testing.T) {
	local := New(testDeps(t))
	remote := New(testDeps(t))
	require.NoError(t, local.Start(context.Background()))
	require.NoError(t, remote.Start(context.Background()))
	defer local.Stop()
	defer remote.Stop()

	fact := journal.Fact{
		Kind:       journal.KindDeviceEnrolled,
		PrimaryKey: journal.PrimaryKey("device-1"),
		Payload:    stringPayload("v1"),
		Authority:  idhash.AuthorityId{1},
		Epoch:      1,
		Agreement:  journal.AgreementFinalized,
	}
	_, _, err := local.Journal.Append(context.Background(), fact)
	require.NoError(t, err)

	remoteDigest := remote.SyncDigest()
	missing := local.MissingFor(remoteDigest)
	require.Len(t, missing, 1)

	require.NoError(t, remote.MergeRemote(context.Background(), missing))
	got, ok := remote.Journal.Get(fact.Kind, fact.PrimaryKey)
	require.True(t, ok)
	require.Equal(t, fact.PrimaryKey, got.PrimaryKey)
}

func TestGrantCapabilityDeniedWithoutDelegatePermission(t *testing.T) {
	a := New(testDeps(t))
	subject := capability.DeviceSubject(idhash.DeviceId{9})

	// A capability that does not grant capability.delegate must not be
	// able to mint a new one.
	readOnly, err := a.Caps.IssueBound(subject, []capability.Permission{{Action: capability.ActionRead, Resource: "journal"}}, 1000, nil, []byte("n1"))
	require.NoError(t, err)

	_, err = a.GrantCapability(context.Background(), subject,
		[]capability.Permission{{Action: capability.ActionRead, Resource: "journal"}}, readOnly, 1000, nil, []byte("n2"))
	require.Error(t, err)
}

func TestGrantAndRevokeCapabilityFunnelThroughGuardChain(t *testing.T) {
	a := New(testDeps(t))
	subject := capability.DeviceSubject(idhash.DeviceId{9})

	delegator, err := a.Caps.IssueBound(subject, []capability.Permission{
		{Action: capability.ActionDelegate, Resource: "capability"},
	}, 1000, nil, []byte("n1"))
	require.NoError(t, err)

	granted, err := a.GrantCapability(context.Background(), subject,
		[]capability.Permission{{Action: capability.ActionRead, Resource: "journal"}}, delegator, 1000, nil, []byte("n2"))
	require.NoError(t, err)
	require.NoError(t, a.Caps.Validate(granted, 2000))

	fact, ok := a.Journal.Get(journal.KindCapabilityGranted, journal.PrimaryKey(granted.ID.String()))
	require.True(t, ok)
	require.Equal(t, journal.KindCapabilityGranted, fact.Kind)

	revoker, err := a.Caps.IssueBound(subject, []capability.Permission{
		{Action: capability.ActionRevoke, Resource: "capability"},
	}, 1000, nil, []byte("n3"))
	require.NoError(t, err)

	require.NoError(t, a.RevokeCapability(context.Background(), granted, revoker, 3000))
	require.Error(t, a.Caps.Validate(granted, 4000))
}

func TestQueryJournalDeniesWithoutMatchingCapability(t *testing.T) {
	a := New(testDeps(t))
	subject := capability.DeviceSubject(idhash.DeviceId{3})

	fact := journal.Fact{
		Kind:       journal.KindDeviceEnrolled,
		PrimaryKey: journal.PrimaryKey("device-1"),
		Payload:    stringPayload("v1"),
		Authority:  a.ID,
		Agreement:  journal.AgreementFinalized,
	}
	_, _, err := a.Journal.Append(context.Background(), fact)
	require.NoError(t, err)

	_, err = a.QueryJournal(journal.KindDeviceEnrolled, nil, 1000, "journal.query", nil)
	require.Error(t, err)

	writeOnly, err := a.Caps.IssueBound(subject, []capability.Permission{{Action: capability.ActionWrite, Resource: "journal"}}, 1000, nil, []byte("n1"))
	require.NoError(t, err)
	_, err = a.QueryJournal(journal.KindDeviceEnrolled, writeOnly, 1000, "journal.query", nil)
	require.Error(t, err)

	reader, err := a.Caps.IssueBound(subject, []capability.Permission{{Action: capability.ActionRead, Resource: "journal"}}, 1000, nil, []byte("n2"))
	require.NoError(t, err)
	facts, err := a.QueryJournal(journal.KindDeviceEnrolled, reader, 1000, "journal.query", nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestChannelTableOpenCloseRoundTrips(t *testing.T) {
	a := New(testDeps(t))
	ctxID, err := idhash.NewContextId(crand.Reader)
	require.NoError(t, err)

	_, ok := a.Channel(ctxID)
	require.False(t, ok)

	a.OpenChannel(ctxID, nil)
	_, ok = a.Channel(ctxID)
	require.True(t, ok)

	a.CloseChannel(ctxID)
	_, ok = a.Channel(ctxID)
	require.False(t, ok)
}
