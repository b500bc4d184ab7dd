package idhash

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// LegacyDoubleHash reproduces the double-SHA256 digest used by fixtures
// captured from the teacher-era test corpus. It is never used for new
// content addressing (BLAKE3 via Sum is authoritative per the wire
// format), and nothing in this module calls it.
func LegacyDoubleHash(data []byte) Hash32 {
	return Hash32(chainhash.DoubleHashH(data))
}
