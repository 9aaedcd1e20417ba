package logfile

import (
	"bufio"
	"io"
	"os"

	"github.com/ilyalabun/btm/wire"
)

// RecordReader iterates the records of one fragment snapshot, in order,
// applying the corruption policy requested by the caller (spec §4.3):
// when skipCorrupted is false, the first corrupted record stops
// iteration with Err() returning the CorruptedRecordError; when true,
// the index is reported to the caller via Next's return and the reader
// advances past the claimed RecordLength to keep going, unless
// RecordLength itself could not be trusted (AbortScan), in which case
// the scan always stops.
type RecordReader struct {
	file *os.File
	r    io.Reader
	end  int64
	pos  int64

	index     int
	err       error
	record    wire.Record
	corrupted bool
}

// Next advances to the next record. It returns false at clean end of
// fragment or on an unrecoverable error (see Err). When it returns true,
// Record and Index report the just-read record; Corrupted reports
// whether that record failed validation (only possible when the caller
// asked to skip corrupted records).
func (rr *RecordReader) Next(skipCorrupted bool) bool {
	if rr.err != nil {
		return false
	}
	if rr.pos >= rr.end {
		rr.err = io.EOF
		return false
	}

	rec, err := wire.Decode(rr.r, false)
	rr.corrupted = false
	if err == nil {
		rr.record = rec
		rr.pos += int64(rec.RecordLength) + 4 // +4 for the end marker
		rr.index++
		return true
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		rr.err = io.EOF
		return false
	}

	ce, ok := err.(*wire.CorruptedRecordError)
	if !ok {
		rr.err = err
		return false
	}
	if !skipCorrupted || ce.AbortScan {
		rr.err = ce
		return false
	}

	// Advance past the claimed record using the still-trusted
	// RecordLength, then resync to that absolute position and keep
	// going.
	skipTo := rr.pos + int64(ce.RecordLength) + 4
	if skipTo <= rr.pos || skipTo > rr.end {
		rr.err = ce
		return false
	}
	if err := rr.resyncTo(skipTo); err != nil {
		rr.err = err
		return false
	}
	rr.record = wire.Record{}
	rr.corrupted = true
	rr.index++
	rr.pos = skipTo
	return true
}

func (rr *RecordReader) resyncTo(abs int64) error {
	if _, err := rr.file.Seek(abs, io.SeekStart); err != nil {
		return err
	}
	rr.r = bufio.NewReader(io.LimitReader(rr.file, rr.end-abs))
	return nil
}

// Record returns the most recently read record; valid only when Next
// returned true and Corrupted() is false.
func (rr *RecordReader) Record() wire.Record { return rr.record }

// Index returns the zero-based ordinal of the most recently read
// record (corrupted or not) within this fragment.
func (rr *RecordReader) Index() int { return rr.index - 1 }

// Corrupted reports whether the most recently read entry was corrupted
// and skipped (only possible in skipCorrupted mode).
func (rr *RecordReader) Corrupted() bool { return rr.corrupted }

// Err returns the first non-EOF error encountered, or the
// *wire.CorruptedRecordError that stopped a non-skipping scan.
func (rr *RecordReader) Err() error {
	if rr.err == io.EOF {
		return nil
	}
	return rr.err
}

// Close releases the reader's file handle.
func (rr *RecordReader) Close() error {
	if rr.file == nil {
		return nil
	}
	err := rr.file.Close()
	rr.file = nil
	return err
}
