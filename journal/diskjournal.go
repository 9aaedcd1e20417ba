package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ilyalabun/btm/logfile"
	"github.com/ilyalabun/btm/uid"
	"github.com/ilyalabun/btm/wire"
)

// DiskOptions configures a DiskJournal (spec §6's diskConfiguration.*,
// maxLogSizeInMb, forcedWriteEnabled, skipCorruptedLogs, filterLogStatus).
type DiskOptions struct {
	Part1Path          string
	Part2Path          string
	MaxLogSizeBytes    int64
	ForcedWriteEnabled bool
	SkipCorruptedLogs  bool
	FilterLogStatus    bool
	Now                func() time.Time
	Logger             *slog.Logger
	DebugName          string
}

// DiskJournal is the disk-backed Journal implementation (spec §4.3): a
// two-fragment logfile.Fragment pair with in-memory dangling/committed
// bookkeeping maintained incrementally as Log is called (and rebuilt
// from disk at Open), mirroring andreyvit-journal's Journal type but
// with a fixed two-fragment rotation scheme instead of an unbounded
// segment sequence.
type DiskJournal struct {
	opts DiskOptions

	mu             sync.Mutex // serializes Open/Close/Log/Force/rotation: the journal's "write latch"
	opened         bool
	fragments      [2]*logfile.Fragment
	activeIdx      int
	nextGeneration uint64
	seq            int32

	stateMu   sync.Mutex
	dangling  map[string]Record
	committed map[string]Record
	corrupted map[int]struct{}

	archiver *Archiver
}

// SetArchiver attaches an Archiver that will opportunistically seal
// each fragment's contents right before it is reused on rotation. A nil
// or disabled Archiver is a no-op.
func (dj *DiskJournal) SetArchiver(a *Archiver) { dj.archiver = a }

var _ Journal = (*DiskJournal)(nil)

// NewDisk constructs a DiskJournal; call Open before using it.
func NewDisk(o DiskOptions) *DiskJournal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	return &DiskJournal{
		opts:      o,
		dangling:  make(map[string]Record),
		committed: make(map[string]Record),
		corrupted: make(map[int]struct{}),
	}
}

func (dj *DiskJournal) Open() error {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	if dj.opened {
		return nil
	}

	now := dj.opts.Now().UnixMilli()
	f1, err := logfile.Open(logfile.Options{
		Path: dj.opts.Part1Path, MaxSize: dj.opts.MaxLogSizeBytes,
		ForcedWriteEnabled: dj.opts.ForcedWriteEnabled, Logger: dj.opts.Logger, NowUnixMilli: now,
	})
	if err != nil {
		return &IOError{Op: "open part1", Cause: err}
	}
	f2, err := logfile.Open(logfile.Options{
		Path: dj.opts.Part2Path, MaxSize: dj.opts.MaxLogSizeBytes,
		ForcedWriteEnabled: dj.opts.ForcedWriteEnabled, Logger: dj.opts.Logger, NowUnixMilli: now,
	})
	if err != nil {
		f1.Close()
		return &IOError{Op: "open part2", Cause: err}
	}
	dj.fragments = [2]*logfile.Fragment{f1, f2}

	if f1.Generation() == 0 && f2.Generation() == 0 {
		if err := f1.Activate(1); err != nil {
			return &IOError{Op: "activate part1", Cause: err}
		}
		dj.activeIdx = 0
		dj.nextGeneration = 2
	} else if f1.Generation() >= f2.Generation() {
		dj.activeIdx = 0
		dj.nextGeneration = f1.Generation() + 1
	} else {
		dj.activeIdx = 1
		dj.nextGeneration = f2.Generation() + 1
	}

	if err := dj.rebuildState(); err != nil {
		f1.Close()
		f2.Close()
		return err
	}

	dj.opened = true
	return nil
}

// rebuildState scans both fragments, oldest generation first, rebuilding
// the in-memory dangling/committed/corrupted bookkeeping and restoring
// the sequence-number counter. Must be called with dj.mu held.
func (dj *DiskJournal) rebuildState() error {
	order := []int{0, 1}
	if dj.fragments[0].Generation() > dj.fragments[1].Generation() {
		order = []int{1, 0}
	}

	dangling := make(map[string]Record)
	committed := make(map[string]Record)
	corrupted := make(map[int]struct{})
	var maxSeq int32
	var index int

	for _, idx := range order {
		frag := dj.fragments[idx]
		if frag.Generation() == 0 {
			continue // never activated, nothing to scan
		}
		rr, err := frag.Reader()
		if err != nil {
			return &IOError{Op: "open reader", Cause: err}
		}
		for rr.Next(dj.opts.SkipCorruptedLogs) {
			if rr.Corrupted() {
				corrupted[index] = struct{}{}
				index++
				continue
			}
			rec, convErr := toJournalRecord(rr.Record())
			if convErr != nil {
				corrupted[index] = struct{}{}
				index++
				continue
			}
			applyRecord(dangling, committed, rec)
			if rec.SequenceNumber > maxSeq {
				maxSeq = rec.SequenceNumber
			}
			index++
		}
		err = rr.Err()
		rr.Close()
		if err != nil {
			if !dj.opts.SkipCorruptedLogs {
				return err
			}
			return &IOError{Op: "scan fragment", Cause: err}
		}
	}

	dj.stateMu.Lock()
	dj.dangling = dangling
	dj.committed = committed
	dj.corrupted = corrupted
	dj.stateMu.Unlock()
	dj.seq = maxSeq
	return nil
}

func toJournalRecord(wr wire.Record) (Record, error) {
	gtrid, err := uid.FromBytes(wr.Gtrid)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Status:         Status(wr.Status),
		Gtrid:          gtrid,
		UniqueNames:    wr.UniqueNames,
		Time:           time.UnixMilli(wr.Time).UTC(),
		SequenceNumber: wr.SequenceNumber,
	}, nil
}

// applyRecord folds one decoded record into the dangling/committed maps,
// per the bookkeeping rule of spec §4.3.
func applyRecord(dangling, committed map[string]Record, rec Record) {
	key := rec.Gtrid.String()
	switch rec.Status {
	case Committing:
		dangling[key] = rec
	case Committed:
		delete(dangling, key)
		committed[key] = rec
	}
}

func (dj *DiskJournal) Close() error {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	return dj.close_locked()
}

func (dj *DiskJournal) close_locked() error {
	if !dj.opened {
		return nil
	}
	var firstErr error
	for _, f := range dj.fragments {
		if f == nil {
			continue
		}
		if err := f.Force(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	dj.opened = false
	if firstErr != nil {
		return &IOError{Op: "close", Cause: firstErr}
	}
	return nil
}

func (dj *DiskJournal) Shutdown() error {
	return dj.Close()
}

func (dj *DiskJournal) Log(status Status, gtrid uid.Uid, uniqueNames []string) error {
	if err := validateLogArgs(status, gtrid, uniqueNames); err != nil {
		return err
	}
	if dj.opts.FilterLogStatus && !status.IsLoadBearing() {
		return nil
	}

	dj.mu.Lock()
	defer dj.mu.Unlock()
	if !dj.opened {
		return &IllegalStateError{Reason: fmt.Sprintf("%s: not open", dj.opts.DebugName)}
	}

	dj.seq++
	rec := wire.Record{
		Status:         int32(status),
		Time:           dj.opts.Now().UnixMilli(),
		SequenceNumber: dj.seq,
		Gtrid:          gtrid.Bytes(),
		UniqueNames:    uniqueNames,
	}

	if err := dj.ensureRoom_locked(rec); err != nil {
		return err
	}

	active := dj.fragments[dj.activeIdx]
	if _, err := active.Append(rec); err != nil {
		return &IOError{Op: "append", Cause: err}
	}

	jrec, err := toJournalRecord(rec)
	if err == nil {
		dj.stateMu.Lock()
		applyRecord(dj.dangling, dj.committed, jrec)
		dj.stateMu.Unlock()
	}
	return nil
}

func validateLogArgs(status Status, gtrid uid.Uid, uniqueNames []string) error {
	if status < Active || status > NoTransaction {
		return &InvalidArgumentError{Reason: fmt.Sprintf("status %d out of range", status)}
	}
	gb := gtrid.Bytes()
	if len(gb) < wire.MinGtridSize || len(gb) > wire.MaxGtridSize {
		return &InvalidArgumentError{Reason: fmt.Sprintf("gtrid size %d out of range", len(gb))}
	}
	for _, n := range uniqueNames {
		if len(n) > wire.MaxUniqueNameLen {
			return &InvalidArgumentError{Reason: "unique name too long"}
		}
	}
	return nil
}

// ensureRoom_locked rotates the active fragment to the other one when
// the about-to-be-written record would overflow it, first migrating
// every still-dangling record so the vacated fragment is never
// discarded while holding unique live state (spec §4.2). Must be called
// with dj.mu held.
func (dj *DiskJournal) ensureRoom_locked(rec wire.Record) error {
	active := dj.fragments[dj.activeIdx]
	size, err := wire.EncodedSize(rec)
	if err != nil {
		return &InvalidArgumentError{Reason: err.Error()}
	}
	if !active.ShouldRotate(size) {
		return nil
	}

	otherIdx := 1 - dj.activeIdx
	other := dj.fragments[otherIdx]
	now := dj.opts.Now().UnixMilli()

	if dj.archiver != nil && dj.archiver.Enabled() && other.Generation() > 0 {
		if rr, rerr := other.RawReader(); rerr == nil {
			name := fmt.Sprintf("%s.gen%d.%d", dj.opts.DebugName, other.Generation(), now)
			if _, aerr := dj.archiver.ArchiveFragment(name, rr, other.Size()); aerr != nil {
				dj.opts.Logger.Warn("journal: fragment archival failed", "journal", dj.opts.DebugName, "err", aerr)
			}
			rr.Close()
		}
	}

	if err := other.Reset(now); err != nil {
		return &IOError{Op: "reset fragment", Cause: err}
	}

	dj.stateMu.Lock()
	toMigrate := make([]Record, 0, len(dj.dangling))
	for _, r := range dj.dangling {
		toMigrate = append(toMigrate, r)
	}
	dj.stateMu.Unlock()

	for _, r := range toMigrate {
		dj.seq++
		mrec := wire.Record{
			Status:         int32(Committing),
			Time:           now,
			SequenceNumber: dj.seq,
			Gtrid:          r.Gtrid.Bytes(),
			UniqueNames:    r.UniqueNames,
		}
		if _, err := other.Append(mrec); err != nil {
			return &IOError{Op: "migrate dangling record", Cause: err}
		}
	}
	if err := other.Force(); err != nil {
		return &IOError{Op: "force migrated fragment", Cause: err}
	}
	if err := other.Activate(dj.nextGeneration); err != nil {
		return &IOError{Op: "activate fragment", Cause: err}
	}
	dj.nextGeneration++
	dj.activeIdx = otherIdx
	dj.opts.Logger.Debug("journal rotated", "journal", dj.opts.DebugName, "migrated", len(toMigrate))
	return nil
}

func (dj *DiskJournal) Force() error {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	if !dj.opened {
		return &IllegalStateError{Reason: fmt.Sprintf("%s: not open", dj.opts.DebugName)}
	}
	if err := dj.fragments[dj.activeIdx].Force(); err != nil {
		return &IOError{Op: "force", Cause: err}
	}
	return nil
}

func (dj *DiskJournal) CollectDanglingRecords() (map[string]Record, error) {
	dj.stateMu.Lock()
	defer dj.stateMu.Unlock()
	out := make(map[string]Record, len(dj.dangling))
	for k, v := range dj.dangling {
		out[k] = v
	}
	return out, nil
}

func (dj *DiskJournal) CollectAllRecords() (*JournalRecords, error) {
	dj.stateMu.Lock()
	defer dj.stateMu.Unlock()
	out := newJournalRecords()
	for k, v := range dj.dangling {
		out.Dangling[k] = v
	}
	for k, v := range dj.committed {
		out.Committed[k] = v
	}
	for k := range dj.corrupted {
		out.Corrupted[k] = struct{}{}
	}
	return out, nil
}

func (dj *DiskJournal) ReadRecords(includeInvalid bool) (RecordIterator, error) {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	if !dj.opened {
		return nil, &IllegalStateError{Reason: fmt.Sprintf("%s: not open", dj.opts.DebugName)}
	}

	order := []int{0, 1}
	if dj.fragments[0].Generation() > dj.fragments[1].Generation() {
		order = []int{1, 0}
	}
	var readers []*logfile.RecordReader
	for _, idx := range order {
		frag := dj.fragments[idx]
		if frag.Generation() == 0 {
			continue
		}
		rr, err := frag.Reader()
		if err != nil {
			for _, r := range readers {
				r.Close()
			}
			return nil, &IOError{Op: "open reader", Cause: err}
		}
		readers = append(readers, rr)
	}
	return &diskIterator{readers: readers, includeInvalid: includeInvalid, skipCorrupted: dj.opts.SkipCorruptedLogs}, nil
}

// diskIterator walks each fragment's RecordReader in turn, translating
// wire records into journal Records.
type diskIterator struct {
	readers        []*logfile.RecordReader
	includeInvalid bool
	skipCorrupted  bool

	idx       int
	err       error
	rec       Record
	corrupted bool
}

func (it *diskIterator) Next() bool {
	for it.idx < len(it.readers) {
		rr := it.readers[it.idx]
		if !rr.Next(it.skipCorrupted || it.includeInvalid) {
			if err := rr.Err(); err != nil {
				it.err = err
				return false
			}
			it.idx++
			continue
		}
		if rr.Corrupted() {
			if !it.includeInvalid {
				continue
			}
			it.corrupted = true
			it.rec = Record{}
			return true
		}
		jrec, convErr := toJournalRecord(rr.Record())
		if convErr != nil {
			if !it.includeInvalid {
				continue
			}
			it.corrupted = true
			it.rec = Record{}
			return true
		}
		it.corrupted = false
		it.rec = jrec
		return true
	}
	return false
}

func (it *diskIterator) Record() Record  { return it.rec }
func (it *diskIterator) Corrupted() bool { return it.corrupted }
func (it *diskIterator) Err() error      { return it.err }
func (it *diskIterator) Close() error {
	var firstErr error
	for _, rr := range it.readers {
		if err := rr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
