// Package authority wires one Aura identity's subsystems into a single
// owned root value, the way the teacher's server.go wires the wallet,
// chain notifier, funding manager, and switch together behind one
// Start/Stop lifecycle (spec §9 DESIGN NOTES: "no singleton" — every
// subsystem is a field of an explicit Authority value, never a package
// global).
package authority

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/sync/errgroup"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/amp"
	"github.com/aura-project/aura-core/budget"
	"github.com/aura-project/aura-core/capability"
	"github.com/aura-project/aura-core/ceremony"
	"github.com/aura-project/aura-core/clock"
	"github.com/aura-project/aura-core/config"
	"github.com/aura-project/aura-core/effects"
	"github.com/aura-project/aura-core/guard"
	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/journal"
	"github.com/aura-project/aura-core/recovery"
	"github.com/aura-project/aura-core/storage"
	"github.com/aura-project/aura-core/ticker"
	"github.com/aura-project/aura-core/tree"
)

// defaultCeremonyReapInterval is how often Start's background reaper
// sweeps the ceremony registry for expired deadlines.
const defaultCeremonyReapInterval = 30 * time.Second

// recoveryTickConcurrency bounds how many recovery runs the reaper ticks
// in parallel per sweep.
const recoveryTickConcurrency = 8

// log is set via UseLogger, following the package-level btclog.Logger
// convention used by journal and tree.
var log = btclog.Disabled

// UseLogger sets the package-level logger.
func UseLogger(logger btclog.Logger) { log = logger }

// PermissionRequirement names the capability.Permission an operation
// requires before its guard chain even runs, the rpcperms-style map the
// teacher's macaroon service builds for its RPC surface.
type PermissionRequirement struct {
	Operation  string
	Permission capability.Permission
}

// Authority owns one identity's full subsystem set: journal, ratchet
// tree, capability engine, flow-budget table, ceremony registry,
// recovery engine, and a table of live AMP channels keyed by context.
type Authority struct {
	mu sync.Mutex

	ID      idhash.AuthorityId
	Journal *journal.Store
	Tree    *tree.Tree
	Caps    *capability.Engine
	Budgets *budget.Table
	Ceremonies *ceremony.Registry
	Recovery   *recovery.Engine
	Config     *config.Config

	channels map[idhash.ContextId]*amp.Channel
	perms    map[string]capability.Permission

	// guardChain is the single funnel every state-changing operation this
	// type exposes (CommitCeremony, CommitRecovery, GrantCapability,
	// RevokeCapability) passes through: capability-check, then flow-
	// budget charge, per spec §4.7. QueryJournal runs a lighter,
	// read-only variant of the capability check directly against
	// journal.Store.Query, since reads never charge a flow budget.
	guardChain guard.Guard

	backend      storage.Backend
	time         effects.PhysicalTimeEffect
	reapInterval time.Duration
	reaper       ticker.Ticker

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopped   bool
}

// Deps bundles the collaborators an Authority is built from. Backend is
// used as given (the caller opens it); Start loads the journal from it
// and Stop closes it.
type Deps struct {
	ID           idhash.AuthorityId
	SigningKey   ed25519.PrivateKey
	MasterSecret []byte
	Backend      storage.Backend
	Config       *config.Config

	// Time supplies the clock Start's ceremony-deadline reaper runs
	// against. Nil defaults to the wall clock.
	Time effects.PhysicalTimeEffect

	// ReapInterval overrides how often Start's ceremony-deadline reaper
	// sweeps. Zero defaults to defaultCeremonyReapInterval.
	ReapInterval time.Duration
}

// New constructs an Authority with every subsystem wired together but
// not yet started: the journal has not loaded from backend, and no
// channel is open.
func New(deps Deps) *Authority {
	timeEffect := deps.Time
	if timeEffect == nil {
		timeEffect = effects.NewPhysicalTime(clock.NewDefaultClock())
	}

	a := &Authority{
		ID:           deps.ID,
		Tree:         tree.New(),
		Caps:         capability.NewEngine(deps.ID, deps.SigningKey, deps.MasterSecret),
		Budgets:      budget.NewTable(),
		Recovery:     recovery.NewEngine(deps.Config),
		Config:       deps.Config,
		channels:     make(map[idhash.ContextId]*amp.Channel),
		perms:        make(map[string]capability.Permission),
		backend:      deps.Backend,
		time:         timeEffect,
		reapInterval: deps.ReapInterval,
	}
	a.Journal = journal.New(deps.Backend)
	a.Ceremonies = ceremony.NewRegistry(a.hasTranscript)
	a.guardChain = guard.Chain(guard.CapabilityGuard(a.Caps), guard.BudgetGuard(a.Budgets))
	a.registerDefaultPermissions()
	return a
}

// runGuarded evaluates req against the authority's single guard chain,
// translating a non-Allowed outcome into an error. Every exported
// operation that mutates state through a caller-presented capability
// (CommitCeremony, CommitRecovery, GrantCapability, RevokeCapability)
// calls this first (spec §4.7, invariant 9).
func (a *Authority) runGuarded(req guard.Request) error {
	out := a.guardChain(req)
	if out.Kind != guard.OutcomeAllowed {
		return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeGuardDenied,
			fmt.Sprintf("%s denied by guard chain", req.Action)).With("reason", out.Reason)
	}
	return nil
}

// CommitCeremony funnels a ceremony commit (device enrollment, device
// removal, guardian setup/rotation, key rotation) through the guard
// chain before delegating to ceremony.Registry.Commit — the caller's cap
// must carry the "ceremony.commit" permission.
func (a *Authority) CommitCeremony(id idhash.CeremonyId, epoch idhash.Epoch, cap *capability.Capability, nowMs int64, fn ceremony.CommitFunc) error {
	perm, _ := a.RequiredPermission("ceremony.commit")
	if err := a.runGuarded(guard.Request{
		Authority:          a.ID,
		Action:             "ceremony.commit",
		Resource:           perm.Resource,
		NowMs:              nowMs,
		Capability:         cap,
		RequiredPermission: perm,
	}); err != nil {
		return err
	}
	return a.Ceremonies.Commit(id, epoch, nowMs, fn)
}

// CommitRecovery funnels a recovery commit through the guard chain
// before delegating to recovery.Engine.Commit — the caller's cap must
// carry the "recovery.commit" permission.
func (a *Authority) CommitRecovery(id idhash.RecoveryId, cap *capability.Capability, nowMs int64, fn recovery.CommitFunc) error {
	perm, _ := a.RequiredPermission("recovery.commit")
	if err := a.runGuarded(guard.Request{
		Authority:          a.ID,
		Action:             "recovery.commit",
		Resource:           perm.Resource,
		NowMs:              nowMs,
		Capability:         cap,
		RequiredPermission: perm,
	}); err != nil {
		return err
	}
	return a.Recovery.Commit(id, nowMs, fn)
}

// GrantCapability funnels capability issuance through the guard chain
// (the grantor's cap must carry "capability.delegate"), then issues the
// new capability and journals a GrantedPayload fact — capability-check
// and journal-append through the one place (spec §4.7).
func (a *Authority) GrantCapability(ctx context.Context, subject capability.Subject, perms []capability.Permission, grantorCap *capability.Capability, nowMs int64, ttl *time.Duration, challenge []byte) (*capability.Capability, error) {
	perm, _ := a.RequiredPermission("capability.delegate")
	if err := a.runGuarded(guard.Request{
		Authority:          a.ID,
		Action:             "capability.delegate",
		Resource:           subject.String(),
		NowMs:              nowMs,
		Capability:         grantorCap,
		RequiredPermission: perm,
	}); err != nil {
		return nil, err
	}

	issued, err := a.Caps.IssueBound(subject, perms, nowMs, ttl, challenge)
	if err != nil {
		return nil, err
	}

	macBin, err := issued.Macaroon.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("authority: marshal issued macaroon: %w", err)
	}
	fact := journal.Fact{
		Kind:       journal.KindCapabilityGranted,
		PrimaryKey: journal.PrimaryKey(issued.ID.String()),
		Payload:    capability.GrantedPayload{CapabilityID: issued.ID, Subject: subject, MacaroonBin: macBin},
		Agreement:  journal.AgreementFinalized,
		Propagation: journal.Local(),
		Authority:  a.ID,
	}
	if _, _, err := a.Journal.Append(ctx, fact); err != nil {
		return nil, fmt.Errorf("authority: journal append of capability grant: %w", err)
	}
	return issued, nil
}

// RevokeCapability funnels capability revocation through the guard chain
// (the revoker's cap must carry "capability.revoke"), then revokes cap
// and journals a RevokedPayload fact.
func (a *Authority) RevokeCapability(ctx context.Context, cap *capability.Capability, revokerCap *capability.Capability, nowMs int64) error {
	perm, _ := a.RequiredPermission("capability.revoke")
	if err := a.runGuarded(guard.Request{
		Authority:          a.ID,
		Action:             "capability.revoke",
		Resource:           cap.Subject.String(),
		NowMs:              nowMs,
		Capability:         revokerCap,
		RequiredPermission: perm,
	}); err != nil {
		return err
	}

	a.Caps.Revoke(cap)

	// The stored payload is replaced, not unioned, so carry earlier IDs forward.
	pk := journal.PrimaryKey(cap.Subject.String())
	var ids [][32]byte
	if prev, ok := a.Journal.Get(journal.KindCapabilityRevoked, pk); ok {
		b := prev.Payload.Bytes()
		for i := 0; i+32 <= len(b); i += 32 {
			var id [32]byte
			copy(id[:], b[i:])
			if id != cap.ID {
				ids = append(ids, id)
			}
		}
	}
	ids = append(ids, cap.ID)

	fact := journal.Fact{
		Kind:        journal.KindCapabilityRevoked,
		PrimaryKey:  pk,
		Payload:     capability.RevokedPayload{RevokedIDs: ids},
		Agreement:   journal.AgreementFinalized,
		Propagation: journal.Local(),
		Authority:   a.ID,
	}
	if _, _, err := a.Journal.Append(ctx, fact); err != nil {
		return fmt.Errorf("authority: journal append of capability revocation: %w", err)
	}
	return nil
}

// journalChecker adapts this authority's capability engine and permission
// table to journal.CapabilityChecker, letting journal.Store.Query check a
// caller's capability without the journal package importing capability.
type journalChecker struct {
	a     *Authority
	cap   *capability.Capability
	nowMs int64
}

func (c journalChecker) Check(requiredPermission string) error {
	perm, ok := c.a.RequiredPermission(requiredPermission)
	if !ok {
		return fmt.Errorf("authority: no permission registered for %q", requiredPermission)
	}
	if c.cap == nil {
		return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeMissingCapability,
			"no capability presented for query")
	}
	if err := c.a.Caps.Validate(c.cap, c.nowMs); err != nil {
		return err
	}
	if !c.cap.Satisfies(perm.Action, perm.Resource) {
		return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeMissingCapability,
			fmt.Sprintf("capability does not grant %s", perm.String()))
	}
	return nil
}

// QueryJournal runs a capability-checked read against the journal (spec
// §4.1's query op): caller must present a capability satisfying
// permName before the scan executes.
func (a *Authority) QueryJournal(kind journal.Kind, caller *capability.Capability, nowMs int64, permName string, pred func(journal.Fact) bool) ([]journal.Fact, error) {
	return a.Journal.Query(kind, journalChecker{a: a, cap: caller, nowMs: nowMs}, permName, pred)
}

// hasTranscript reports whether the journal already holds a DKG
// transcript fact for (authority, epoch), the gate ceremony.Registry's
// Commit uses before finalizing a consensus-DKG-requiring ceremony kind.
func (a *Authority) hasTranscript(authority idhash.AuthorityId, epoch idhash.Epoch) bool {
	key := journal.PrimaryKey(fmt.Sprintf("%s:%d", authority.String(), epoch))
	_, ok := a.Journal.Get(journal.Kind("DKGTranscript"), key)
	return ok
}

// registerDefaultPermissions seeds the rpcperms-style table gating which
// capability permission each named operation requires.
func (a *Authority) registerDefaultPermissions() {
	a.perms["amp.send"] = capability.Permission{Action: capability.ActionWrite, Resource: "amp:channel"}
	a.perms["amp.receive"] = capability.Permission{Action: capability.ActionRead, Resource: "amp:channel"}
	a.perms["ceremony.propose"] = capability.Permission{Action: capability.ActionWrite, Resource: "ceremony"}
	a.perms["ceremony.respond"] = capability.Permission{Action: capability.ActionWrite, Resource: "ceremony"}
	a.perms["ceremony.commit"] = capability.Permission{Action: capability.ActionAdmin, Resource: "ceremony"}
	a.perms["recovery.propose"] = capability.Permission{Action: capability.ActionAdmin, Resource: "recovery"}
	a.perms["recovery.approve"] = capability.Permission{Action: capability.ActionAdmin, Resource: "recovery"}
	a.perms["recovery.commit"] = capability.Permission{Action: capability.ActionAdmin, Resource: "recovery"}
	a.perms["capability.delegate"] = capability.Permission{Action: capability.ActionDelegate, Resource: "capability"}
	a.perms["capability.revoke"] = capability.Permission{Action: capability.ActionRevoke, Resource: "capability"}
	a.perms["journal.query"] = capability.Permission{Action: capability.ActionRead, Resource: "journal"}
}

// RequiredPermission returns the capability.Permission operation
// requires, or false if no permission is registered for it (such an
// operation is denied by default by any caller that enforces presence).
func (a *Authority) RequiredPermission(operation string) (capability.Permission, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.perms[operation]
	return p, ok
}

// SetPermission overrides or adds the permission required for operation.
func (a *Authority) SetPermission(operation string, perm capability.Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perms[operation] = perm
}

// Permissions returns a snapshot of the full operation-to-permission
// table, for inspection tooling.
func (a *Authority) Permissions() map[string]capability.Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]capability.Permission, len(a.perms))
	for k, v := range a.perms {
		out[k] = v
	}
	return out
}

// Start loads the journal from backend and launches the background
// ceremony-deadline reaper. It is idempotent: a second call is a no-op,
// mirroring the teacher's server.go guarded Start.
func (a *Authority) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() {
		log.Infof("authority %s starting", a.ID.Short())
		if loadErr := a.Journal.Load(ctx); loadErr != nil {
			err = fmt.Errorf("authority: loading journal: %w", loadErr)
			return
		}
		a.mu.Lock()
		a.started = true
		a.mu.Unlock()
		interval := a.reapInterval
		if interval <= 0 {
			interval = defaultCeremonyReapInterval
		}
		a.startCeremonyReaper(interval)
	})
	return err
}

// startCeremonyReaper launches a goroutine that sweeps the ceremony
// registry for expired deadlines and ticks every active recovery run's
// time-driven transitions, every interval, stopped by Stop.
func (a *Authority) startCeremonyReaper(interval time.Duration) {
	a.reaper = ticker.New(interval)
	a.reaper.Start()
	go func() {
		for range a.reaper.Ticks() {
			nowMs := a.time.NowMs()

			aborted := a.Ceremonies.SweepDeadlines(nowMs)
			for _, id := range aborted {
				log.Warnf("ceremony %s aborted: deadline exceeded", id.String())
			}

			// Active recovery runs tick independently of one another (each
			// only touches its own state under its own lock), so fan the
			// sweep out across a bounded group of goroutines rather than
			// ticking thousands of runs one at a time on the reaper
			// goroutine.
			var g errgroup.Group
			g.SetLimit(recoveryTickConcurrency)
			for _, id := range a.Recovery.ActiveIDs() {
				id := id
				g.Go(func() error {
					a.Recovery.Tick(id, nowMs)
					return nil
				})
			}
			g.Wait()
		}
	}()
}

// Stop halts the ceremony reaper, then closes the storage backend. Open
// AMP channels are left in the channel table untouched. It is idempotent.
func (a *Authority) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		log.Infof("authority %s stopping", a.ID.Short())
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()
		if a.reaper != nil {
			a.reaper.Stop()
		}
		if a.backend != nil {
			err = a.backend.Close()
		}
	})
	return err
}

// OpenChannel registers ch as the AMP channel under ctx for this
// authority, replacing any prior channel under the same context
// (e.g. on explicit rekey to a fresh Channel rather than in-place Rekey).
func (a *Authority) OpenChannel(ctx idhash.ContextId, ch *amp.Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channels[ctx] = ch
}

// Channel returns the live AMP channel for ctx, if one is open.
func (a *Authority) Channel(ctx idhash.ContextId) (*amp.Channel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.channels[ctx]
	return ch, ok
}

// CloseChannel removes ctx's channel from the table.
func (a *Authority) CloseChannel(ctx idhash.ContextId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.channels, ctx)
}

// SyncDigest returns an exact sorted-CID digest of every live fact in
// this authority's journal, the summary sent to a peer at the start of
// an anti-entropy round (spec §4.1/§6).
func (a *Authority) SyncDigest() *journal.Digest {
	return journal.BuildDigest(a.Journal)
}

// MissingFor returns every local fact remote's digest does not contain,
// the batch this authority should push to the peer that sent remote.
func (a *Authority) MissingFor(remote *journal.Digest) []journal.Fact {
	return journal.Missing(a.Journal, remote)
}

// MergeRemote integrates a batch of facts received from a peer during
// anti-entropy sync into this authority's journal.
func (a *Authority) MergeRemote(ctx context.Context, facts []journal.Fact) error {
	return a.Journal.Merge(ctx, facts)
}

// IsStarted reports whether Start has completed successfully.
func (a *Authority) IsStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}
