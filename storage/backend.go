// Package storage implements the persistence interface the journal and
// ceremony registry consume, per spec §6: a small key-value contract with
// a stable prefix layout, backed by an embedded bbolt database (default,
// single-node), a remote etcd cluster (multi-process / replicated
// authority state), or postgres (multi-authority test harnesses that
// want a real relational store behind the same interface), mirroring
// the teacher's kvdb module which offers the same interface over
// multiple concrete backends.
package storage

import "context"

// Backend is the key-value contract the journal and ceremony registry are
// built on.
type Backend interface {
	Store(ctx context.Context, key string, value []byte) error
	Retrieve(ctx context.Context, key string) ([]byte, bool, error)
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	StoreBatch(ctx context.Context, pairs map[string][]byte) error
	Close() error
}

// Stable key-prefix layout, per spec §6.
const (
	PrefixTreeOps      = "tree_ops/"
	KeyTreeOpsIndex     = "tree_ops_index"
	PrefixJournalFact   = "journal:fact:" // journal:fact:<kind>:<primary_key>
	PrefixRecoveryReq   = "recovery:request:" // recovery:request:<account>:<ts>
	PrefixRecoverySess  = "recovery:session:" // recovery:session:<account>:<device>
)

// FactKey builds the storage key for a fact: journal:fact:<kind>:<primary_key>.
func FactKey(kind, primaryKey string) string {
	return PrefixJournalFact + kind + ":" + primaryKey
}

// RecoveryRequestKey builds the storage key for a recovery request.
func RecoveryRequestKey(account, ts string) string {
	return PrefixRecoveryReq + account + ":" + ts
}

// RecoverySessionKey builds the storage key for a recovery session.
func RecoverySessionKey(account, device string) string {
	return PrefixRecoverySess + account + ":" + device
}

// TreeOpKey builds the storage key for an attested tree operation.
func TreeOpKey(hashHex string) string {
	return PrefixTreeOps + hashHex
}
