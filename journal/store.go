package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/storage"
	"github.com/btcsuite/btclog"
)

// log is set via UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-level logger.
func UseLogger(logger btclog.Logger) { log = logger }

// Subscription is a live view onto facts matching a Kind, delivered in
// append order. Callers drain Facts; Close unregisters the subscription.
type Subscription struct {
	Facts chan Fact
	store *Store
	kind  Kind
	id    uint64
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	subs := s.store.subs[s.kind]
	for i, sub := range subs {
		if sub.id == s.id {
			s.store.subs[s.kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Store is the per-authority fact store: a CRDT-merged, durably persisted,
// query-indexed table of Facts, backed by a storage.Backend. Many readers
// may query concurrently with a single writer appending, matching the
// journal's many-reader/one-writer concurrency model (DESIGN NOTES §9).
type Store struct {
	mu      sync.RWMutex
	backend storage.Backend

	// byKind indexes live (non-superseded) facts by Kind then PrimaryKey,
	// mirroring what's durable in backend for fast query without a full
	// table scan.
	byKind map[Kind]map[PrimaryKey]Fact

	subs    map[Kind][]*Subscription
	nextSub uint64
}

// New returns a Store backed by backend, with an empty in-memory index.
// Callers that reopen an existing backend should call Load to rebuild the
// index from durable state.
func New(backend storage.Backend) *Store {
	return &Store{
		backend: backend,
		byKind:  make(map[Kind]map[PrimaryKey]Fact),
		subs:    make(map[Kind][]*Subscription),
	}
}

// Load rebuilds the in-memory index from every fact durable in backend.
func (s *Store) Load(ctx context.Context) error {
	keys, err := s.backend.ListKeys(ctx, storage.PrefixJournalFact)
	if err != nil {
		return fmt.Errorf("journal: list keys: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		raw, ok, err := s.backend.Retrieve(ctx, k)
		if err != nil {
			return fmt.Errorf("journal: retrieve %s: %w", k, err)
		}
		if !ok {
			continue
		}
		fact, err := decodeFact(raw)
		if err != nil {
			return fmt.Errorf("journal: decode %s: %w", k, err)
		}
		s.index(fact)
	}
	log.Infof("journal: loaded %d facts from storage", len(keys))
	return nil
}

// index inserts fact into the in-memory byKind table unconditionally; it
// does not merge. Callers must have already resolved merge conflicts.
func (s *Store) index(f Fact) {
	m, ok := s.byKind[f.Kind]
	if !ok {
		m = make(map[PrimaryKey]Fact)
		s.byKind[f.Kind] = m
	}
	m[f.PrimaryKey] = f
}

// Append integrates a new fact into the store: merging it against any
// existing fact sharing its (Kind, PrimaryKey) per the kind's declared
// MergePolicy, persisting the winner, and notifying subscribers if the
// winner changed. Append never rejects incoming data outright — the loser
// of a merge is retained as Superseded (for LWW kinds) rather than
// discarded, so replaying history never loses information (invariant 1).
func (s *Store) Append(ctx context.Context, incoming Fact) (Fact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.byKind[incoming.Kind][incoming.PrimaryKey]
	var winner, loser Fact
	var changed bool

	if !exists {
		winner, changed = incoming, true
	} else {
		winner, loser, changed = Merger(existing, incoming)
		if changed && loser.Kind != "" {
			loser.Agreement = AgreementSuperseded
		}
	}

	if !changed {
		return existing, false, nil
	}

	s.index(winner)

	raw, err := encodeFact(winner)
	if err != nil {
		return Fact{}, false, fmt.Errorf("journal: encode: %w", err)
	}
	key := storage.FactKey(string(winner.Kind), string(winner.PrimaryKey))
	if err := s.backend.Store(ctx, key, raw); err != nil {
		return Fact{}, false, fmt.Errorf("journal: store: %w", err)
	}

	s.notify(winner)
	return winner, true, nil
}

// Merge integrates a batch of facts received from a peer during
// anti-entropy sync (spec §4.1's fifth Journal op), joining each one
// against local state via the same CRDT merge policy Append uses. A
// failure partway through does not roll back facts already merged —
// each fact is independently idempotent to re-merge, so the caller can
// simply retry the batch (or the remainder of it) on error.
func (s *Store) Merge(ctx context.Context, facts []Fact) error {
	for _, f := range facts {
		if _, _, err := s.Append(ctx, f); err != nil {
			return fmt.Errorf("journal: merge: %w", err)
		}
	}
	return nil
}

// notify delivers winner to every subscription registered on its Kind. A
// slow or full subscriber channel is skipped rather than blocking the
// writer, matching the journal's single-writer concurrency model: a
// wedged reader must never stall appends.
func (s *Store) notify(f Fact) {
	for _, sub := range s.subs[f.Kind] {
		select {
		case sub.Facts <- f:
		default:
			log.Warnf("journal: subscriber backlog full, dropping notification for %s/%s", f.Kind, f.PrimaryKey)
		}
	}
}

// Get returns the current fact for (kind, key), if one exists.
func (s *Store) Get(kind Kind, key PrimaryKey) (Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byKind[kind][key]
	return f, ok
}

// CapabilityChecker verifies that a caller's presented capability
// satisfies a named permission, the check Query runs against the caller
// before executing (spec §4.1's query op: "checks the query's declared
// capabilities against the caller"). Implemented by a
// capability.Engine-backed adapter in the caller's package; defined here
// as a narrow interface rather than importing capability directly, to
// avoid an import cycle (capability's fact payloads implement
// journal.Payload).
type CapabilityChecker interface {
	Check(requiredPermission string) error
}

// Query returns every live fact of the given kind satisfying pred, after
// checker confirms the caller's capability satisfies requiredPermission.
// A nil pred matches everything; a nil checker or a failing check denies
// the query outright rather than silently scanning with no access
// control. The scan itself is deliberately a simple linear pass over an
// in-memory index rather than a general query planner — the spec's query
// surface is narrow (lookups keyed by device, guardian, or channel) and
// doesn't warrant one.
func (s *Store) Query(kind Kind, checker CapabilityChecker, requiredPermission string, pred func(Fact) bool) ([]Fact, error) {
	if checker == nil {
		return nil, aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeMissingCapability,
			"query issued with no capability checker")
	}
	if err := checker.Check(requiredPermission); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, 0, len(s.byKind[kind]))
	for _, f := range s.byKind[kind] {
		if pred == nil || pred(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Subscribe registers a live feed of facts of the given kind, delivered as
// they're appended. bufSize sizes the delivery channel; a subscriber that
// falls behind loses notifications rather than stalling the writer.
func (s *Store) Subscribe(kind Kind, bufSize int) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := &Subscription{
		Facts: make(chan Fact, bufSize),
		store: s,
		kind:  kind,
		id:    s.nextSub,
	}
	s.subs[kind] = append(s.subs[kind], sub)
	return sub
}

// AllCIDs returns the content identifier of every live fact in the store,
// for anti-entropy digest construction.
func (s *Store) AllCIDs() []idhash.Hash32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]idhash.Hash32, 0)
	for _, m := range s.byKind {
		for _, f := range m {
			out = append(out, f.CID())
		}
	}
	return out
}

// Len returns the total number of live facts across all kinds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byKind {
		n += len(m)
	}
	return n
}
