package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aura-project/aura-core/idhash"
)

// rawPayload is the payload representation used when decoding a fact back
// from storage: the journal itself only ever needs a payload's bytes and
// merge policy to do its job, so it never deserializes into the kind's
// concrete Go type. Callers that need the structured payload (e.g. the
// ceremony engine reading a DKGTranscript fact) decode Bytes() themselves.
type rawPayload struct {
	data   []byte
	policy MergePolicy
}

func (r rawPayload) Bytes() []byte          { return r.data }
func (r rawPayload) MergePolicy() MergePolicy { return r.policy }

var _ Payload = rawPayload{}

// encodeFact serializes a Fact to a flat binary layout: a small fixed
// header followed by variable-length fields, in the teacher's tlv-adjacent
// style of length-prefixed sections rather than a general-purpose codec.
func encodeFact(f Fact) ([]byte, error) {
	var buf bytes.Buffer

	writeLP(&buf, []byte(f.Kind))
	writeLP(&buf, []byte(f.PrimaryKey))
	writeLP(&buf, f.Payload.Bytes())

	buf.WriteByte(byte(f.Payload.MergePolicy()))
	buf.WriteByte(byte(f.Agreement))

	buf.WriteByte(byte(f.Propagation.State))
	_ = binary.Write(&buf, binary.BigEndian, f.Propagation.PeersReached)
	_ = binary.Write(&buf, binary.BigEndian, f.Propagation.PeersKnown)
	_ = binary.Write(&buf, binary.BigEndian, f.Propagation.RetryAtMs)
	_ = binary.Write(&buf, binary.BigEndian, f.Propagation.RetryCount)
	writeLP(&buf, []byte(f.Propagation.Error))

	buf.Write(f.Authority[:])
	_ = binary.Write(&buf, binary.BigEndian, uint64(f.Epoch))
	buf.Write(f.Signature[:])

	return buf.Bytes(), nil
}

// decodeFact is the inverse of encodeFact.
func decodeFact(raw []byte) (Fact, error) {
	r := bytes.NewReader(raw)

	kind, err := readLP(r)
	if err != nil {
		return Fact{}, fmt.Errorf("kind: %w", err)
	}
	key, err := readLP(r)
	if err != nil {
		return Fact{}, fmt.Errorf("primary key: %w", err)
	}
	payloadBytes, err := readLP(r)
	if err != nil {
		return Fact{}, fmt.Errorf("payload: %w", err)
	}

	policyByte, err := r.ReadByte()
	if err != nil {
		return Fact{}, fmt.Errorf("policy: %w", err)
	}
	agreementByte, err := r.ReadByte()
	if err != nil {
		return Fact{}, fmt.Errorf("agreement: %w", err)
	}

	stateByte, err := r.ReadByte()
	if err != nil {
		return Fact{}, fmt.Errorf("propagation state: %w", err)
	}
	var reached, known uint16
	var retryAt int64
	var retryCount uint32
	if err := binary.Read(r, binary.BigEndian, &reached); err != nil {
		return Fact{}, fmt.Errorf("peers reached: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &known); err != nil {
		return Fact{}, fmt.Errorf("peers known: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &retryAt); err != nil {
		return Fact{}, fmt.Errorf("retry at: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &retryCount); err != nil {
		return Fact{}, fmt.Errorf("retry count: %w", err)
	}
	errStr, err := readLP(r)
	if err != nil {
		return Fact{}, fmt.Errorf("propagation error: %w", err)
	}

	var authority idhash.AuthorityId
	if _, err := r.Read(authority[:]); err != nil {
		return Fact{}, fmt.Errorf("authority: %w", err)
	}
	var epoch uint64
	if err := binary.Read(r, binary.BigEndian, &epoch); err != nil {
		return Fact{}, fmt.Errorf("epoch: %w", err)
	}
	var sig [64]byte
	if _, err := r.Read(sig[:]); err != nil {
		return Fact{}, fmt.Errorf("signature: %w", err)
	}

	return Fact{
		Kind:       Kind(kind),
		PrimaryKey: PrimaryKey(key),
		Payload:    rawPayload{data: payloadBytes, policy: MergePolicy(policyByte)},
		Agreement:  Agreement(agreementByte),
		Propagation: Propagation{
			State:        PropagationState(stateByte),
			PeersReached: reached,
			PeersKnown:   known,
			RetryAtMs:    retryAt,
			RetryCount:   retryCount,
			Error:        string(errStr),
		},
		Authority: authority,
		Epoch:     idhash.Epoch(epoch),
		Signature: sig,
	}, nil
}

func writeLP(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func readLP(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
