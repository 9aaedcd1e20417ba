// Package uid implements the transaction manager's global transaction
// identifiers (gtrids) and the Xid framing used to present them to
// resource managers.
//
// A Uid is an opaque, immutable byte sequence of length 1..64: a
// US-ASCII server-id prefix (<=51 bytes), a millisecond timestamp, and a
// monotonic per-process sequence number. Uids compare by byte content;
// for Uids sharing the same server-id prefix this orders them by
// timestamp then sequence, since both are encoded big-endian.
package uid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// MaxServerIDLen is the largest allowed server-id prefix, in bytes.
	MaxServerIDLen = 51
	// MaxLen is the largest allowed encoded Uid, in bytes.
	MaxLen = 64
	// MinLen is the smallest allowed encoded Uid, in bytes.
	MinLen = 1

	timestampLen = 8
	sequenceLen  = 4
)

// Uid is a global transaction identifier: serverID || timestampMs || seq.
type Uid struct {
	b []byte
}

// New builds a Uid from its three components. serverID must be US-ASCII
// and at most MaxServerIDLen bytes.
func New(serverID string, timestampMs int64, seq int32) (Uid, error) {
	if len(serverID) > MaxServerIDLen {
		return Uid{}, fmt.Errorf("uid: server id too long (%d > %d)", len(serverID), MaxServerIDLen)
	}
	if !isASCII(serverID) {
		return Uid{}, fmt.Errorf("uid: server id is not US-ASCII")
	}
	if timestampMs <= 0 {
		return Uid{}, fmt.Errorf("uid: non-positive timestamp")
	}
	if seq <= 0 {
		return Uid{}, fmt.Errorf("uid: non-positive sequence number")
	}

	buf := make([]byte, 0, len(serverID)+timestampLen+sequenceLen)
	buf = append(buf, serverID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestampMs))
	buf = binary.BigEndian.AppendUint32(buf, uint32(seq))
	return Uid{b: buf}, nil
}

// FromBytes wraps an already-encoded Uid, validating its length only.
// Use this when reading a gtrid back from the journal wire format.
func FromBytes(b []byte) (Uid, error) {
	if len(b) < MinLen || len(b) > MaxLen {
		return Uid{}, fmt.Errorf("uid: invalid length %d", len(b))
	}
	return Uid{b: append([]byte(nil), b...)}, nil
}

// Bytes returns the raw encoded form. Callers must not mutate it.
func (u Uid) Bytes() []byte { return u.b }

// IsZero reports whether u is the zero value (no bytes).
func (u Uid) IsZero() bool { return len(u.b) == 0 }

// Timestamp extracts the millisecond timestamp embedded in the Uid.
func (u Uid) Timestamp() int64 {
	if len(u.b) < timestampLen+sequenceLen {
		return 0
	}
	off := len(u.b) - timestampLen - sequenceLen
	return int64(binary.BigEndian.Uint64(u.b[off : off+timestampLen]))
}

// Time returns Timestamp as a time.Time in UTC.
func (u Uid) Time() time.Time {
	return time.UnixMilli(u.Timestamp()).UTC()
}

// Sequence extracts the monotonic sequence number embedded in the Uid.
func (u Uid) Sequence() int32 {
	if len(u.b) < sequenceLen {
		return 0
	}
	off := len(u.b) - sequenceLen
	return int32(binary.BigEndian.Uint32(u.b[off:]))
}

// HasServerIDPrefix reports whether u was generated by the node
// identified by serverID. Used by recovery's currentNodeOnlyRecovery
// filter.
func (u Uid) HasServerIDPrefix(serverID string) bool {
	prefixLen := len(u.b) - timestampLen - sequenceLen
	if prefixLen < 0 || prefixLen != len(serverID) {
		return false
	}
	return string(u.b[:prefixLen]) == serverID
}

// Compare orders Uids by byte content (and therefore, for Uids with the
// same server-id prefix, by timestamp, then sequence).
func (u Uid) Compare(other Uid) int {
	return bytes.Compare(u.b, other.b)
}

// Equal reports byte-for-byte equality, suitable for use as a map key
// via String().
func (u Uid) Equal(other Uid) bool {
	return bytes.Equal(u.b, other.b)
}

// String renders the Uid for map keys and logging. Two Uids with equal
// bytes render identically, which is what callers need for dangling/
// committed map keys.
func (u Uid) String() string {
	return string(u.b)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}
