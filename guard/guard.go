// Package guard implements the single funnel every state-changing
// request passes through: a chain of guards each producing a
// GuardOutcome, with Allowed outcomes carrying the ordered EffectCommand
// list an executor runs, per spec §4.7 and invariant 9 (guard
// composition: denial anywhere in the chain short-circuits execution).
package guard

import (
	"fmt"

	"github.com/aura-project/aura-core/budget"
	"github.com/aura-project/aura-core/capability"
	"github.com/aura-project/aura-core/idhash"
)

// OutcomeKind tags which variant of GuardOutcome a guard produced.
type OutcomeKind uint8

const (
	OutcomeAllowed OutcomeKind = iota
	OutcomeDenied
	OutcomeRequiresThreshold
	OutcomeConditional
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAllowed:
		return "Allowed"
	case OutcomeDenied:
		return "Denied"
	case OutcomeRequiresThreshold:
		return "RequiresThreshold"
	case OutcomeConditional:
		return "Conditional"
	default:
		return "Unknown"
	}
}

// EffectKind tags which variant of EffectCommand a step is.
type EffectKind uint8

const (
	EffectJournalAppend EffectKind = iota
	EffectChargeFlowBudget
	EffectNotifyPeer
	EffectRecordReceipt
)

// EffectCommand is one declared side effect an Allowed outcome requires.
// Effects run in declaration order; Execute's caller must stop and roll
// back on the first failing effect (spec §4.7 "Execution rule").
type EffectCommand struct {
	Kind EffectKind

	// JournalAppend
	FactBytes []byte

	// ChargeFlowBudget
	Cost uint64

	// NotifyPeer
	Peer    idhash.AuthorityId
	Context idhash.ContextId

	// RecordReceipt
	Operation string
}

// JournalAppendEffect builds an EffectCommand for appending a fact,
// opaque to guard (the caller decodes FactBytes with the journal kind it
// expects).
func JournalAppendEffect(factBytes []byte) EffectCommand {
	return EffectCommand{Kind: EffectJournalAppend, FactBytes: factBytes}
}

// ChargeFlowBudgetEffect builds an EffectCommand charging cost bytes.
func ChargeFlowBudgetEffect(cost uint64) EffectCommand {
	return EffectCommand{Kind: EffectChargeFlowBudget, Cost: cost}
}

// NotifyPeerEffect builds an EffectCommand notifying peer within context.
func NotifyPeerEffect(peer idhash.AuthorityId, ctx idhash.ContextId) EffectCommand {
	return EffectCommand{Kind: EffectNotifyPeer, Peer: peer, Context: ctx}
}

// RecordReceiptEffect builds an EffectCommand recording a receipt for
// operation, optionally scoped to peer.
func RecordReceiptEffect(operation string, peer idhash.AuthorityId) EffectCommand {
	return EffectCommand{Kind: EffectRecordReceipt, Operation: operation, Peer: peer}
}

// Requirement names one unmet condition a Conditional outcome surfaces to
// its caller (e.g. "capability expired", "awaiting guardian ack").
type Requirement struct {
	Name   string
	Detail string
}

// Outcome is the tagged result a guard produces.
type Outcome struct {
	Kind OutcomeKind

	// Allowed
	Effects []EffectCommand

	// Denied
	Reason string

	// RequiresThreshold
	Required       int
	Current        int
	MissingDevices []idhash.DeviceId

	// Conditional
	Requirements []Requirement
}

// Allowed builds an Allowed outcome carrying effects.
func Allowed(effects ...EffectCommand) Outcome {
	return Outcome{Kind: OutcomeAllowed, Effects: effects}
}

// Denied builds a Denied outcome with reason.
func Denied(reason string) Outcome {
	return Outcome{Kind: OutcomeDenied, Reason: reason}
}

// RequiresThreshold builds a RequiresThreshold outcome.
func RequiresThreshold(required, current int, missing []idhash.DeviceId) Outcome {
	return Outcome{Kind: OutcomeRequiresThreshold, Required: required, Current: current, MissingDevices: missing}
}

// Conditional builds a Conditional outcome.
func Conditional(reqs ...Requirement) Outcome {
	return Outcome{Kind: OutcomeConditional, Requirements: reqs}
}

// Request is the input every guard in a chain evaluates.
type Request struct {
	Authority idhash.AuthorityId
	Action    string
	Resource  string
	Context   idhash.ContextId
	Cost      uint64
	NowMs     int64

	// Capability and RequiredPermission are consumed by CapabilityGuard:
	// Capability is the caller-presented grant, RequiredPermission is
	// what it must satisfy for this request to proceed.
	Capability         *capability.Capability
	RequiredPermission capability.Permission

	// BudgetKey is consumed by BudgetGuard. A nil key skips flow-budget
	// charging (the guard chain is also used by operations with no
	// per-channel budget, like ceremony and capability commits).
	BudgetKey *budget.Key
}

// CapabilityGuard checks req.Capability against engine (signature,
// expiry, revocation) and then against req.RequiredPermission, the
// capability-check stage every guard chain runs first (spec §4.7).
func CapabilityGuard(engine *capability.Engine) Guard {
	return func(req Request) Outcome {
		if req.Capability == nil {
			return Denied("no capability presented for " + req.Action)
		}
		if err := engine.Validate(req.Capability, req.NowMs); err != nil {
			return Denied(err.Error())
		}
		if !req.Capability.Satisfies(req.RequiredPermission.Action, req.RequiredPermission.Resource) {
			return Denied(fmt.Sprintf("capability does not grant %s", req.RequiredPermission.String()))
		}
		return Allowed()
	}
}

// BudgetGuard charges req.Cost against req.BudgetKey in table, the flow-
// budget stage that runs after the capability check (spec §4.7). A
// request with no BudgetKey (ceremony/recovery/capability operations have
// no per-channel flow budget) is allowed through untouched.
func BudgetGuard(table *budget.Table) Guard {
	return func(req Request) Outcome {
		if req.BudgetKey == nil || req.Cost == 0 {
			return Allowed()
		}
		if err := table.Charge(*req.BudgetKey, req.Cost); err != nil {
			return Denied(err.Error())
		}
		return Allowed(ChargeFlowBudgetEffect(req.Cost))
	}
}

// Guard evaluates a Request and produces an Outcome. A chain runs guards
// in order; the first non-Allowed outcome short-circuits the chain.
type Guard func(req Request) Outcome

// Chain composes guards into a single Guard. An Allowed result from every
// guard merges all their effects, in guard order, into one Allowed
// outcome; any other outcome from any guard stops evaluation and is
// returned immediately (spec §4.7's single-funnel composition rule).
func Chain(guards ...Guard) Guard {
	return func(req Request) Outcome {
		var effects []EffectCommand
		for _, g := range guards {
			out := g(req)
			switch out.Kind {
			case OutcomeAllowed:
				effects = append(effects, out.Effects...)
			default:
				return out
			}
		}
		return Allowed(effects...)
	}
}

// Executor runs an Allowed outcome's effects in order via the supplied
// handlers, stopping and returning an error on the first failure — the
// caller is expected to roll back any journal transaction opened for
// this request when Execute fails partway (spec §4.7 "Execution rule").
type Executor struct {
	OnJournalAppend    func(factBytes []byte) error
	OnChargeFlowBudget func(cost uint64) error
	OnNotifyPeer       func(peer idhash.AuthorityId, ctx idhash.ContextId) error
	OnRecordReceipt    func(operation string, peer idhash.AuthorityId) error
}

// Execute runs every effect in declaration order.
func (ex Executor) Execute(effects []EffectCommand) error {
	for i, eff := range effects {
		var err error
		switch eff.Kind {
		case EffectJournalAppend:
			if ex.OnJournalAppend != nil {
				err = ex.OnJournalAppend(eff.FactBytes)
			}
		case EffectChargeFlowBudget:
			if ex.OnChargeFlowBudget != nil {
				err = ex.OnChargeFlowBudget(eff.Cost)
			}
		case EffectNotifyPeer:
			if ex.OnNotifyPeer != nil {
				err = ex.OnNotifyPeer(eff.Peer, eff.Context)
			}
		case EffectRecordReceipt:
			if ex.OnRecordReceipt != nil {
				err = ex.OnRecordReceipt(eff.Operation, eff.Peer)
			}
		}
		if err != nil {
			return fmt.Errorf("guard: effect %d (%v) failed, rolling back: %w", i, eff.Kind, err)
		}
	}
	return nil
}
