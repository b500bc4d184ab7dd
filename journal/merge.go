package journal

// MergePolicy names the CRDT merge rule a fact kind's payload follows.
// The journal dispatches on this tag rather than on a virtual method, per
// the DESIGN NOTES' "polymorphic CRDTs -> trait-like capability set" rule.
type MergePolicy uint8

const (
	// MergeLww: last-writer-wins by (timestamp, replica) tie-break.
	MergeLww MergePolicy = iota
	// MergeGrowOnly: values only ever accumulate (e.g. a grow-only set of
	// granted capabilities); nothing is ever retracted by merge alone.
	MergeGrowOnly
	// MergeObservedRemove: an observed-remove map semantics, where a
	// concurrent add that didn't observe a remove survives it.
	MergeObservedRemove
	// MergeUserDefined: an application-specific merge function, looked up
	// by tag; used for payload kinds this package doesn't know about.
	MergeUserDefined
)

func (m MergePolicy) String() string {
	switch m {
	case MergeLww:
		return "Lww"
	case MergeGrowOnly:
		return "GrowOnly"
	case MergeObservedRemove:
		return "ObservedRemove"
	case MergeUserDefined:
		return "UserDefined"
	default:
		return "Unknown"
	}
}

// LwwPayload is implemented by payloads that carry a logical timestamp
// and writer identity for MergeLww tie-breaking.
type LwwPayload interface {
	Payload
	Timestamp() int64
	Writer() string
}

// Merger resolves two facts sharing a primary key into the winner,
// according to the kind's declared merge policy. It never silently drops
// data: a loser under MergeLww becomes Superseded rather than vanishing
// (see journal.Store.Append).
func Merger(existing, incoming Fact) (winner, loser Fact, changed bool) {
	policy := incoming.Payload.MergePolicy()

	switch policy {
	case MergeLww:
		exLww, exOK := existing.Payload.(LwwPayload)
		inLww, inOK := incoming.Payload.(LwwPayload)
		if !exOK || !inOK {
			// Can't compare timestamps; keep existing, treat incoming as
			// a no-op rather than guessing.
			return existing, incoming, false
		}
		if inLww.Timestamp() > exLww.Timestamp() ||
			(inLww.Timestamp() == exLww.Timestamp() && inLww.Writer() > exLww.Writer()) {
			return incoming, existing, true
		}
		return existing, incoming, false

	case MergeGrowOnly, MergeObservedRemove, MergeUserDefined:
		// These policies are payload-specific: the payload's own Bytes()
		// must already reflect the joined state (callers merge via the
		// payload's Join before calling append/merge); the journal's job
		// is only to detect whether anything changed.
		if string(existing.Payload.Bytes()) == string(incoming.Payload.Bytes()) {
			return existing, existing, false
		}
		return incoming, existing, true

	default:
		return existing, incoming, false
	}
}
