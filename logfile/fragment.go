// Package logfile implements the two-fragment circular log file that
// backs a single disk journal leg (spec §4.2): a fixed file header with
// a rolling write cursor, followed by a sequence of wire-framed records.
package logfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/ilyalabun/btm/wire"
)

const (
	magic         uint64 = 0x42544d4a524e4c31 // "BTMJRNL1"
	formatVersion uint32 = 1

	// headerFixedSize is magic(8) + version(4) + createdAt(8).
	headerFixedSize = 8 + 4 + 8
	// CurrentPositionHeader is the fixed offset of the i64 write cursor.
	CurrentPositionHeader = headerFixedSize
	// headerBodySize is every header field covered by the integrity
	// hash: magic, version, createdAt, cursor, generation.
	headerBodySize = headerFixedSize + 8 + 8
	// HeaderSize is the total size of the fixed file header: the hashed
	// body plus the trailing xxhash integrity checksum, grounded on
	// andreyvit-journal's own xxhash-protected segment headers
	// (segmentwriter.go/segmentreader.go), reused here to catch a torn
	// or bit-rotted header write independently of the magic/version check.
	HeaderSize = headerBodySize + 8
)

// Fragment is one of the two files making up a disk journal. Grounded on
// andreyvit-journal's segmentwriter.go/segmentreader.go fragment
// lifecycle (header + rolling cursor, rotation, fsync-on-commit), here
// narrowed to the spec's fixed two-fragment circular scheme instead of
// an unbounded sequence of segments.
type Fragment struct {
	path               string
	file               *os.File
	maxSize            int64
	forcedWriteEnabled bool
	logger             *slog.Logger

	cursor     int64 // absolute write offset of the next record
	createdAt  int64
	generation uint64 // bumped each time this fragment becomes the active one
	dirty      bool   // cursor/data written but not yet fsynced
}

// Options configures Open.
type Options struct {
	Path               string
	MaxSize            int64
	ForcedWriteEnabled bool
	Logger             *slog.Logger
	NowUnixMilli       int64 // used only when creating a new file
}

// Open opens path, creating and initializing it with a fresh header if
// it does not exist.
func Open(o Options) (*Fragment, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	f, err := os.OpenFile(o.Path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}

	frag := &Fragment{
		path:               o.Path,
		file:               f,
		maxSize:            o.MaxSize,
		forcedWriteEnabled: o.ForcedWriteEnabled,
		logger:             o.Logger,
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := frag.initHeader(o.NowUnixMilli); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := frag.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}

	return frag, nil
}

func (f *Fragment) initHeader(nowUnixMilli int64) error {
	f.createdAt = nowUnixMilli
	f.cursor = HeaderSize
	f.generation = 1
	return f.writeHeader()
}

func (f *Fragment) loadHeader() error {
	var buf [HeaderSize]byte
	if _, err := f.file.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("logfile: reading header of %s: %w", f.path, err)
	}
	gotMagic := binary.BigEndian.Uint64(buf[0:8])
	if gotMagic != magic {
		return fmt.Errorf("logfile: %s: bad magic", f.path)
	}
	version := binary.BigEndian.Uint32(buf[8:12])
	if version != formatVersion {
		return fmt.Errorf("logfile: %s: unsupported format version %d", f.path, version)
	}

	wantSum := binary.BigEndian.Uint64(buf[headerBodySize:HeaderSize])
	gotSum := xxhash.Sum64(buf[:headerBodySize])
	if gotSum != wantSum {
		return fmt.Errorf("logfile: %s: header integrity checksum mismatch", f.path)
	}

	f.createdAt = int64(binary.BigEndian.Uint64(buf[12:20]))
	f.cursor = int64(binary.BigEndian.Uint64(buf[20:28]))
	f.generation = binary.BigEndian.Uint64(buf[28:36])
	if f.cursor < HeaderSize {
		return fmt.Errorf("logfile: %s: corrupted cursor %d", f.path, f.cursor)
	}
	return nil
}

func (f *Fragment) writeHeader() error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], magic)
	binary.BigEndian.PutUint32(buf[8:12], formatVersion)
	binary.BigEndian.PutUint64(buf[12:20], uint64(f.createdAt))
	binary.BigEndian.PutUint64(buf[20:28], uint64(f.cursor))
	binary.BigEndian.PutUint64(buf[28:36], f.generation)
	binary.BigEndian.PutUint64(buf[headerBodySize:HeaderSize], xxhash.Sum64(buf[:headerBodySize]))
	if _, err := f.file.WriteAt(buf[:], 0); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

// Generation returns the activation counter last written to the
// fragment's header: the disk journal bumps this whenever the fragment
// becomes (or resumes as) the one actively accepting writes, so that on
// reopen the fragment with the higher generation is the active one.
func (f *Fragment) Generation() uint64 { return f.generation }

// Activate bumps the fragment's generation counter and persists it,
// marking it as the journal's active fragment as of now.
func (f *Fragment) Activate(generation uint64) error {
	f.generation = generation
	return f.writeHeader()
}

// Cursor returns the current absolute write offset.
func (f *Fragment) Cursor() int64 { return f.cursor }

// Path returns the fragment's file path.
func (f *Fragment) Path() string { return f.path }

// Size reports how many bytes of the fragment are in logical use
// (header + records so far), which is what rotation thresholds compare
// against.
func (f *Fragment) Size() int64 { return f.cursor }

// ShouldRotate reports whether appending approxRecordBytes more would
// push the fragment past its configured maximum size.
func (f *Fragment) ShouldRotate(approxRecordBytes int) bool {
	if f.maxSize <= 0 {
		return false
	}
	return f.cursor+int64(approxRecordBytes) > f.maxSize
}

// Append serializes rec at the current cursor and advances it. The
// write is not guaranteed durable until Force is called: per the
// cursor/record atomicity decision (DESIGN.md), the header's cursor
// field is rewritten in the same call so that a single subsequent
// fsync (in Force) covers both the new record bytes and the moved
// cursor, never leaving a crash to recover to a cursor past unflushed
// data.
func (f *Fragment) Append(rec wire.Record) (int64, error) {
	var buf countingBuffer
	if err := wire.Encode(&buf, rec); err != nil {
		return 0, err
	}
	if _, err := f.file.WriteAt(buf.b, f.cursor); err != nil {
		return 0, err
	}
	f.cursor += int64(len(buf.b))
	f.dirty = true
	if err := f.writeHeader(); err != nil {
		return 0, err
	}
	return int64(len(buf.b)), nil
}

// Force fsyncs the fragment file, establishing a happens-before edge
// between every prior Append and any subsequent reader (including a
// crash-recovery reader on the next process). A no-op when
// forcedWriteEnabled is false (unsafe; configuration-controlled).
func (f *Fragment) Force() error {
	if !f.forcedWriteEnabled {
		return nil
	}
	if !f.dirty {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Reset truncates the fragment back to an empty (header-only) state,
// used when a vacated fragment is reused after its dangling records
// have all migrated to the other fragment.
func (f *Fragment) Reset(nowUnixMilli int64) error {
	if err := f.file.Truncate(HeaderSize); err != nil {
		return err
	}
	f.createdAt = nowUnixMilli
	f.cursor = HeaderSize
	return f.writeHeader()
}

// Close releases the underlying file handle.
func (f *Fragment) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Reader opens a read-only cursor over the fragment's records, from
// HeaderSize up to the fragment's cursor at the time Reader is called.
// The returned *RecordReader is not restartable and is bounded to a
// fixed snapshot of the cursor (a concurrent writer cannot retroactively
// shrink what's being read, only append past the reader's end).
func (f *Fragment) Reader() (*RecordReader, error) {
	rf, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	end := f.cursor
	section := io.NewSectionReader(rf, HeaderSize, end-HeaderSize)
	return &RecordReader{
		file: rf,
		r:    bufio.NewReader(section),
		end:  end,
		pos:  HeaderSize,
	}, nil
}

// RawReader opens a read-only snapshot of the fragment's raw record
// bytes (everything after the header, up to the cursor at the time this
// is called), for callers that want the bytes themselves rather than
// decoded records — e.g. archival.
func (f *Fragment) RawReader() (io.ReadCloser, error) {
	rf, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	section := io.NewSectionReader(rf, HeaderSize, f.cursor-HeaderSize)
	return &rawFragmentReader{file: rf, section: section}, nil
}

type rawFragmentReader struct {
	file    *os.File
	section *io.SectionReader
}

func (r *rawFragmentReader) Read(p []byte) (int, error) { return r.section.Read(p) }
func (r *rawFragmentReader) Close() error                { return r.file.Close() }

// countingBuffer is a tiny io.Writer sink used to size+capture an
// encoded record before a single pwrite.
type countingBuffer struct{ b []byte }

func (c *countingBuffer) Write(p []byte) (int, error) {
	c.b = append(c.b, p...)
	return len(p), nil
}
