// Package capability implements signed, scoped, expiring, optionally
// delegable permissions, checked by the guard pipeline on every mutation.
// Each capability is carried as a macaroon (gopkg.in/macaroon.v2):
// permissions, expiry, and delegation links are expressed as first-party
// caveats, and the guard pipeline's Validate call includes a macaroon
// Verify against the issuing authority's capability root key.
package capability

import "fmt"

// Action names what a capability permits. Custom actions carry an
// application-defined tag rather than widening this enum.
type Action uint8

const (
	ActionRead Action = iota
	ActionWrite
	ActionDelete
	ActionExecute
	ActionDelegate
	ActionRevoke
	ActionAdmin
	ActionCustom
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionDelete:
		return "delete"
	case ActionExecute:
		return "execute"
	case ActionDelegate:
		return "delegate"
	case ActionRevoke:
		return "revoke"
	case ActionAdmin:
		return "admin"
	case ActionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Permission is an (action, resource) pair. Resource is an opaque scope
// string (e.g. "journal:fact:DeviceEnrolled", "channel:<context_id>");
// interpretation is the caller's responsibility.
type Permission struct {
	Action    Action
	Resource  string
	CustomTag string // populated only when Action == ActionCustom
}

func (p Permission) String() string {
	if p.Action == ActionCustom {
		return fmt.Sprintf("custom(%s):%s", p.CustomTag, p.Resource)
	}
	return fmt.Sprintf("%s:%s", p.Action, p.Resource)
}

// caveat condition prefixes used when encoding a Permission/expiry/
// delegation link as a macaroon first-party caveat.
const (
	caveatPermission = "perm"
	caveatBefore     = "before"
	caveatChallenge  = "chal"
)

func permissionCaveat(p Permission) string {
	if p.Action == ActionCustom {
		return fmt.Sprintf("%s custom %s %s", caveatPermission, p.CustomTag, p.Resource)
	}
	return fmt.Sprintf("%s %s %s", caveatPermission, p.Action, p.Resource)
}

func beforeCaveat(expiresAtMs int64) string {
	return fmt.Sprintf("%s %d", caveatBefore, expiresAtMs)
}

func challengeCaveat(nonce []byte) string {
	return fmt.Sprintf("%s %x", caveatChallenge, nonce)
}
