package aerrors

// Stable error codes, grouped per category. Callers should match on these
// rather than on Message, which is free text for humans.
const (
	CodeSignatureInvalid     = "signature_invalid"
	CodeAEADOpenFailed       = "aead_open_failed"
	CodeDKGTranscriptMismatch = "dkg_transcript_mismatch"
	CodeAggregationFailed    = "threshold_aggregation_failed"

	CodeEpochMismatch        = "epoch_mismatch"
	CodeGenerationOutOfWindow = "generation_out_of_window"
	CodeCeremonyNotFound     = "ceremony_not_found"
	CodeInvalidTransition    = "invalid_state_transition"
	CodeDuplicateNonce       = "duplicate_nonce"

	CodeMissingCapability = "missing_capability"
	CodeGuardDenied       = "guard_denied"
	CodeFlowBudgetExhausted = "flow_budget_exhausted"
	CodeCircuitOpen       = "circuit_open"

	CodePrimaryKeyCollision = "primary_key_collision"
	CodeJournalCorrupt      = "journal_corruption"
	CodeTreeInvariant       = "tree_invariant_violated"

	CodePeerUnreachable = "peer_unreachable"
	CodeReceiptTimeout  = "receipt_timeout"
	CodeSyncFailed      = "sync_failed"

	CodeStorageQuotaExceeded = "storage_quota_exceeded"
	CodeTooManyCeremonies    = "too_many_ceremonies"
)
