// Package wire implements the binary framing of a single journal record
// and its CRC-32 protection (spec §3, §4.1).
//
// Record layout, big-endian throughout:
//
//	status           int32
//	recordLength     int32
//	headerLength     int32
//	time             int64
//	sequenceNumber   int32
//	crc32            uint32
//	gtridSize        int8
//	gtrid            [gtridSize]byte
//	uniqueNamesCount int32
//	uniqueNames      []{len int16; bytes [len]byte}  (US-ASCII)
//	endMarker        int32
//
// The CRC-32 covers headerLength, time, sequenceNumber, gtridSize,
// gtrid, uniqueNamesCount and uniqueNames — i.e. the remainder of the
// record fields in their defined order, skipping the crc32 field itself
// and not including status/recordLength (read before the record's
// validity can be established) or endMarker (a fixed sentinel, not
// data).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// FixedHeaderSize is the byte size of status, recordLength,
	// headerLength, time, sequenceNumber and crc32 combined.
	FixedHeaderSize = 4 + 4 + 4 + 8 + 4 + 4

	// EndMarker is the fixed sentinel written after the last name byte
	// of every record.
	EndMarker int32 = 0x0a0d0a0d

	// MaxGtridSize is the largest allowed gtrid, in bytes (spec §3).
	MaxGtridSize = 64
	// MinGtridSize is the smallest allowed gtrid, in bytes.
	MinGtridSize = 1

	// MaxUniqueNameLen is the largest allowed resource unique name, in
	// bytes (stored as an int16 length prefix).
	MaxUniqueNameLen = 32767

	// maxUniqueNamesCount guards against unbounded allocation from a
	// corrupted uniqueNamesCount field; the spec leaves the exact cap
	// unspecified so this is a conservative, implementation-chosen bound.
	maxUniqueNamesCount = 1 << 16
)

// Record is one journal status record, on disk and in memory.
type Record struct {
	Status           int32
	RecordLength     int32
	HeaderLength     int32
	Time             int64
	SequenceNumber   int32
	CRC32            uint32
	GtridSize        int8
	Gtrid            []byte
	UniqueNamesCount int32
	UniqueNames      []string
	EndMarker        int32
}

// CorruptedRecordError reports a structural or CRC violation found while
// decoding a record (spec §4.1, §7).
type CorruptedRecordError struct {
	Reason string
	// RecordLength is the claimed length of the malformed record, if it
	// was itself readable and in bounds; callers use it to skip past the
	// record and continue scanning (spec §4.3's skipCorruptedLogs policy).
	// AbortScan is true when recordLength itself could not be trusted,
	// in which case the caller must stop scanning rather than skip.
	RecordLength int32
	AbortScan    bool
}

func (e *CorruptedRecordError) Error() string {
	return fmt.Sprintf("wire: corrupted record: %s", e.Reason)
}

func corrupt(reason string, recordLength int32, abort bool) *CorruptedRecordError {
	return &CorruptedRecordError{Reason: reason, RecordLength: recordLength, AbortScan: abort}
}

// Encode writes rec to w in the on-disk format, computing RecordLength,
// HeaderLength, CRC32 and EndMarker itself; the corresponding fields of
// rec are ignored on input.
func Encode(w io.Writer, rec Record) error {
	if err := validateForEncode(rec); err != nil {
		return err
	}

	body := encodeBody(rec.HeaderLengthOrDefault(), rec.Time, rec.SequenceNumber, rec.derivedGtridSize(), rec.Gtrid, rec.UniqueNames)
	crc := crc32.ChecksumIEEE(body)
	// headerLength, time and sequenceNumber open the CRC-covered body but
	// are already written in the fixed header.
	tail := body[4+8+4:]

	recordLength := int32(FixedHeaderSize + len(tail))

	var buf bytes.Buffer
	buf.Grow(int(recordLength) + 4)
	writeInt32(&buf, rec.Status)
	writeInt32(&buf, recordLength)
	writeInt32(&buf, rec.HeaderLengthOrDefault())
	writeInt64(&buf, rec.Time)
	writeInt32(&buf, rec.SequenceNumber)
	writeUint32(&buf, crc)
	buf.Write(tail)
	writeInt32(&buf, EndMarker)

	_, err := w.Write(buf.Bytes())
	return err
}

// EncodedSize returns the number of bytes Encode would write for rec,
// without writing them; callers use it to decide whether a record would
// overflow the active fragment before attempting the write.
func EncodedSize(rec Record) (int, error) {
	if err := validateForEncode(rec); err != nil {
		return 0, err
	}
	body := encodeBody(rec.HeaderLengthOrDefault(), rec.Time, rec.SequenceNumber, rec.derivedGtridSize(), rec.Gtrid, rec.UniqueNames)
	return FixedHeaderSize + len(body) - (4 + 8 + 4) + 4, nil
}

// HeaderLengthOrDefault returns rec.HeaderLength, defaulting to
// FixedHeaderSize when unset (zero), which is the value Encode always
// produces.
func (rec Record) HeaderLengthOrDefault() int32 {
	if rec.HeaderLength > 0 {
		return rec.HeaderLength
	}
	return FixedHeaderSize
}

// derivedGtridSize derives the wire gtridSize field from len(Gtrid).
func (rec Record) derivedGtridSize() int8 { return int8(len(rec.Gtrid)) }

func validateForEncode(rec Record) error {
	if rec.Status < 0 {
		return fmt.Errorf("wire: encode: negative status %d", rec.Status)
	}
	if len(rec.Gtrid) < MinGtridSize || len(rec.Gtrid) > MaxGtridSize {
		return fmt.Errorf("wire: encode: invalid gtrid size %d", len(rec.Gtrid))
	}
	if rec.SequenceNumber <= 0 {
		return fmt.Errorf("wire: encode: non-positive sequence number %d", rec.SequenceNumber)
	}
	if rec.Time <= 0 {
		return fmt.Errorf("wire: encode: non-positive time %d", rec.Time)
	}
	for _, name := range rec.UniqueNames {
		if len(name) > MaxUniqueNameLen {
			return fmt.Errorf("wire: encode: unique name too long (%d bytes)", len(name))
		}
		if !isASCII(name) {
			return fmt.Errorf("wire: encode: unique name is not US-ASCII")
		}
	}
	return nil
}

// encodeBody serializes exactly the CRC-covered fields, in their defined
// order: headerLength, time, sequenceNumber, gtridSize, gtrid,
// uniqueNamesCount, uniqueNames.
func encodeBody(headerLength int32, t int64, seq int32, gtridSize int8, gtrid []byte, names []string) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, headerLength)
	writeInt64(&buf, t)
	writeInt32(&buf, seq)
	buf.WriteByte(byte(gtridSize))
	buf.Write(gtrid)
	writeInt32(&buf, int32(len(names)))
	for _, name := range names {
		writeInt16(&buf, int16(len(name)))
		buf.WriteString(name)
	}
	return buf.Bytes()
}

// Decode reads one record from r. On a CorruptedRecordError, the
// returned Record still carries whatever Status/RecordLength fields
// were parsed so the caller can apply the skip-ahead policy of spec
// §4.3. skipCRC lets a caller bypass the CRC recomputation (e.g. to
// recover a record's RecordLength without paying for the hash when it
// is already known to be corrupted some other way); callers should
// leave it false in normal operation.
func Decode(r io.Reader, skipCRC bool) (Record, error) {
	var rec Record

	var fixed [FixedHeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return rec, err // clean EOF or I/O error, propagated as-is
	}

	rec.Status = int32(binary.BigEndian.Uint32(fixed[0:4]))
	rec.RecordLength = int32(binary.BigEndian.Uint32(fixed[4:8]))
	rec.HeaderLength = int32(binary.BigEndian.Uint32(fixed[8:12]))
	rec.Time = int64(binary.BigEndian.Uint64(fixed[12:20]))
	rec.SequenceNumber = int32(binary.BigEndian.Uint32(fixed[20:24]))
	rec.CRC32 = binary.BigEndian.Uint32(fixed[24:28])

	if rec.RecordLength < FixedHeaderSize {
		// RecordLength itself cannot be trusted: the scan must abort
		// rather than attempt to skip ahead (spec §4.3).
		return rec, corrupt(fmt.Sprintf("recordLength %d below fixed header size", rec.RecordLength), rec.RecordLength, true)
	}
	if rec.Status < 0 {
		return rec, corrupt(fmt.Sprintf("negative status %d", rec.Status), rec.RecordLength, false)
	}
	if rec.HeaderLength < 1 {
		return rec, corrupt(fmt.Sprintf("headerLength %d < 1", rec.HeaderLength), rec.RecordLength, false)
	}

	var crcBuf bytes.Buffer
	writeInt32(&crcBuf, rec.HeaderLength)
	writeInt64(&crcBuf, rec.Time)
	writeInt32(&crcBuf, rec.SequenceNumber)

	var gtridSizeByte [1]byte
	if _, err := io.ReadFull(r, gtridSizeByte[:]); err != nil {
		return rec, ioOrCorrupt(err, rec.RecordLength)
	}
	rec.GtridSize = int8(gtridSizeByte[0])
	crcBuf.WriteByte(gtridSizeByte[0])
	if rec.GtridSize < MinGtridSize || int(rec.GtridSize) > MaxGtridSize {
		return rec, corrupt(fmt.Sprintf("gtridSize %d out of bounds", rec.GtridSize), rec.RecordLength, false)
	}

	rec.Gtrid = make([]byte, rec.GtridSize)
	if _, err := io.ReadFull(r, rec.Gtrid); err != nil {
		return rec, ioOrCorrupt(err, rec.RecordLength)
	}
	crcBuf.Write(rec.Gtrid)

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return rec, ioOrCorrupt(err, rec.RecordLength)
	}
	rec.UniqueNamesCount = int32(binary.BigEndian.Uint32(countBuf[:]))
	crcBuf.Write(countBuf[:])
	if rec.UniqueNamesCount < 0 || rec.UniqueNamesCount > maxUniqueNamesCount {
		return rec, corrupt(fmt.Sprintf("uniqueNamesCount %d out of bounds", rec.UniqueNamesCount), rec.RecordLength, false)
	}

	rec.UniqueNames = make([]string, 0, rec.UniqueNamesCount)
	for i := int32(0); i < rec.UniqueNamesCount; i++ {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return rec, ioOrCorrupt(err, rec.RecordLength)
		}
		nameLen := int16(binary.BigEndian.Uint16(lenBuf[:]))
		crcBuf.Write(lenBuf[:])
		if nameLen < 0 {
			return rec, corrupt(fmt.Sprintf("negative name length %d", nameLen), rec.RecordLength, false)
		}

		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return rec, ioOrCorrupt(err, rec.RecordLength)
		}
		crcBuf.Write(nameBytes)
		if !isASCIIBytes(nameBytes) {
			return rec, corrupt("unique name is not US-ASCII", rec.RecordLength, false)
		}
		rec.UniqueNames = append(rec.UniqueNames, string(nameBytes))
	}

	var endBuf [4]byte
	if _, err := io.ReadFull(r, endBuf[:]); err != nil {
		return rec, ioOrCorrupt(err, rec.RecordLength)
	}
	rec.EndMarker = int32(binary.BigEndian.Uint32(endBuf[:]))
	if rec.EndMarker != EndMarker {
		return rec, corrupt("missing end marker", rec.RecordLength, false)
	}

	minLen := int32(FixedHeaderSize) + 1 + int32(rec.GtridSize) + 4
	for _, name := range rec.UniqueNames {
		minLen += 2 + int32(len(name))
	}
	if rec.RecordLength < minLen {
		return rec, corrupt(fmt.Sprintf("recordLength %d shorter than structural minimum %d", rec.RecordLength, minLen), rec.RecordLength, false)
	}

	if !skipCRC {
		actual := crc32.ChecksumIEEE(crcBuf.Bytes())
		if actual != rec.CRC32 {
			return rec, corrupt(fmt.Sprintf("crc32 mismatch: stored=%08x computed=%08x", rec.CRC32, actual), rec.RecordLength, false)
		}
	}

	return rec, nil
}

func ioOrCorrupt(err error, recordLength int32) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return corrupt("unexpected end of file mid-record", recordLength, false)
	}
	return err
}

func writeInt32(buf *bytes.Buffer, v int32)  { var b [4]byte; binary.BigEndian.PutUint32(b[:], uint32(v)); buf.Write(b[:]) }
func writeInt64(buf *bytes.Buffer, v int64)  { var b [8]byte; binary.BigEndian.PutUint64(b[:], uint64(v)); buf.Write(b[:]) }
func writeInt16(buf *bytes.Buffer, v int16)  { var b [2]byte; binary.BigEndian.PutUint16(b[:], uint16(v)); buf.Write(b[:]) }
func writeUint32(buf *bytes.Buffer, v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); buf.Write(b[:]) }

func isASCII(s string) bool { return isASCIIBytes([]byte(s)) }

func isASCIIBytes(b []byte) bool {
	for _, c := range b {
		if c > 0x7f {
			return false
		}
	}
	return true
}
