// Package journal implements the transaction status log (spec §4.3,
// §4.4): a DiskJournal over a pair of logfile.Fragments, a
// MultiplexedJournal fanning every operation out to two DiskJournals for
// high availability, and a NullJournal for when journaling is disabled.
//
// Grounded on andreyvit-journal's Journal/journalWriter open/close/
// write-lock lifecycle (andreyvit-journal/journal.go,
// journalwriter.go), generalized from an unbounded rotating segment
// sequence to the spec's fixed two-fragment circular scheme, and on its
// merge.go fan-out pattern for the multiplexed variant.
package journal

import (
	"time"

	"github.com/ilyalabun/btm/uid"
)

// Record is one journaled status entry, reconstructed from the wire
// format with its gtrid decoded into a uid.Uid.
type Record struct {
	Status         Status
	Gtrid          uid.Uid
	UniqueNames    []string
	Time           time.Time
	SequenceNumber int32
}

// HasUniqueName reports whether name is among rec.UniqueNames.
func (rec Record) HasUniqueName(name string) bool {
	for _, n := range rec.UniqueNames {
		if n == name {
			return true
		}
	}
	return false
}

// WithoutUniqueName returns a copy of rec with name removed from
// UniqueNames, used by the recoverer when a branch of a dangling record
// completes (spec §4.5 step 4a).
func (rec Record) WithoutUniqueName(name string) Record {
	out := rec
	out.UniqueNames = nil
	for _, n := range rec.UniqueNames {
		if n != name {
			out.UniqueNames = append(out.UniqueNames, n)
		}
	}
	return out
}

// JournalRecords is the output of CollectAllRecords (spec §3): the
// dangling and committed records, keyed by uid.Uid.String(), plus the
// set of corrupted record indices encountered while scanning.
type JournalRecords struct {
	Dangling  map[string]Record
	Committed map[string]Record
	Corrupted map[int]struct{}
}

func newJournalRecords() *JournalRecords {
	return &JournalRecords{
		Dangling:  make(map[string]Record),
		Committed: make(map[string]Record),
		Corrupted: make(map[int]struct{}),
	}
}

// Journal is the contract the transaction manager drives (spec §6).
type Journal interface {
	Open() error
	Close() error
	Shutdown() error
	Log(status Status, gtrid uid.Uid, uniqueNames []string) error
	Force() error
	CollectDanglingRecords() (map[string]Record, error)
	CollectAllRecords() (*JournalRecords, error)
	ReadRecords(includeInvalid bool) (RecordIterator, error)
}

// RecordIterator is a finite, non-restartable sequence of records, used
// by ReadRecords (spec §4.3). Call Next until it returns false; Err
// reports why iteration stopped (nil at clean end).
type RecordIterator interface {
	Next() bool
	Record() Record
	// Corrupted reports whether the entry just yielded by Next was
	// corrupted (only possible when ReadRecords was called with
	// includeInvalid true); Record() returns the zero Record in that case.
	Corrupted() bool
	Err() error
	Close() error
}
