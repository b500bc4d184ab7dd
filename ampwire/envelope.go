// Package ampwire defines the AMP transport's wire envelope: a fixed-
// layout header plus a sealed payload and an optional receipt, in the
// style of the teacher's lnwire.Message (Encode/Decode against an
// io.Writer/io.Reader, little-endian fixed-width fields per spec §6),
// per spec §4.6.
package ampwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aura-project/aura-core/idhash"
)

// Version is the current envelope wire version.
const Version uint8 = 1

// Header carries the routing and anti-replay metadata every envelope is
// authenticated over.
type Header struct {
	Channel     idhash.ContextId
	ChanEpoch   idhash.Epoch
	RatchetGen  uint64
	Sender      idhash.AuthorityId
	Destination idhash.AuthorityId
}

// Envelope is one AMP transport unit: header, sealed payload ciphertext,
// and an optional receipt (see budget.Receipt, serialized opaquely here —
// ampwire does not know the receipt's internal shape).
type Envelope struct {
	VersionByte uint8
	Header      Header
	Payload     []byte
	Receipt     []byte
}

// NewEnvelope builds an envelope at the current wire version.
func NewEnvelope(h Header, payload, receipt []byte) *Envelope {
	return &Envelope{VersionByte: Version, Header: h, Payload: payload, Receipt: receipt}
}

func writeUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Encode serializes the envelope: version(1) | channel(16) | chan_epoch(8)
// | ratchet_gen(8) | sender(16) | destination(16) | payload_len(4) |
// payload | receipt_len(2) | receipt.
//
// This is part of the ampwire wire contract mirrored by Decode.
func (e *Envelope) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{e.VersionByte}); err != nil {
		return err
	}
	if _, err := w.Write(e.Header.Channel[:]); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(e.Header.ChanEpoch)); err != nil {
		return err
	}
	if err := writeUint64(w, e.Header.RatchetGen); err != nil {
		return err
	}
	if _, err := w.Write(e.Header.Sender[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Header.Destination[:]); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(e.Payload))); err != nil {
		return err
	}
	if _, err := w.Write(e.Payload); err != nil {
		return err
	}
	if err := writeUint16(w, uint16(len(e.Receipt))); err != nil {
		return err
	}
	_, err := w.Write(e.Receipt)
	return err
}

// Decode deserializes an envelope from r, the inverse of Encode.
func (e *Envelope) Decode(r io.Reader) error {
	var verBuf [1]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return err
	}
	e.VersionByte = verBuf[0]
	if e.VersionByte != Version {
		return fmt.Errorf("ampwire: unsupported envelope version %d", e.VersionByte)
	}

	if _, err := io.ReadFull(r, e.Header.Channel[:]); err != nil {
		return err
	}
	epoch, err := readUint64(r)
	if err != nil {
		return err
	}
	e.Header.ChanEpoch = idhash.Epoch(epoch)

	gen, err := readUint64(r)
	if err != nil {
		return err
	}
	e.Header.RatchetGen = gen

	if _, err := io.ReadFull(r, e.Header.Sender[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, e.Header.Destination[:]); err != nil {
		return err
	}

	payloadLen, err := readUint32(r)
	if err != nil {
		return err
	}
	e.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, e.Payload); err != nil {
		return err
	}

	receiptLen, err := readUint16(r)
	if err != nil {
		return err
	}
	e.Receipt = make([]byte, receiptLen)
	_, err = io.ReadFull(r, e.Receipt)
	return err
}
