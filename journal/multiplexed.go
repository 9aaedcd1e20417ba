package journal

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ilyalabun/btm/uid"
)

// MultiplexedOptions configures a MultiplexedJournal (spec §4.4,
// §6's failOnRecordCorruption).
type MultiplexedOptions struct {
	FailOnRecordCorruption bool
	Logger                 *slog.Logger
}

// MultiplexedJournal fans every operation out to two legs (normally two
// DiskJournals pointed at independent storage) for availability: a
// write only succeeds once both legs have accepted it, and a read
// merges both legs' views by set union/reduction (spec §4.4). Grounded
// on andreyvit-journal's two-goroutine fan-out idiom (journalwriter.go's
// writeLock-guarded background goroutine) and its merge.go set-merge
// approach, narrowed here from an N-way heap merge to the spec's fixed
// two-leg scheme.
type MultiplexedJournal struct {
	legs [2]Journal
	opts MultiplexedOptions
}

var _ Journal = (*MultiplexedJournal)(nil)

// NewMultiplexed constructs a MultiplexedJournal over two legs, normally
// two DiskJournals backed by independent volumes.
func NewMultiplexed(leg1, leg2 Journal, o MultiplexedOptions) *MultiplexedJournal {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &MultiplexedJournal{legs: [2]Journal{leg1, leg2}, opts: o}
}

// fanOut runs f against both legs concurrently and returns once both
// have finished, reporting the first non-nil error (if any); both calls
// always run to completion regardless of the other's outcome.
func (mj *MultiplexedJournal) fanOut(f func(Journal) error) error {
	var wg sync.WaitGroup
	errs := [2]error{}
	for i, leg := range mj.legs {
		wg.Add(1)
		go func(i int, leg Journal) {
			defer wg.Done()
			errs[i] = f(leg)
		}(i, leg)
	}
	wg.Wait()
	if errs[0] != nil {
		return errs[0]
	}
	return errs[1]
}

func (mj *MultiplexedJournal) Open() error {
	return mj.fanOut(func(j Journal) error { return j.Open() })
}

func (mj *MultiplexedJournal) Close() error {
	return mj.fanOut(func(j Journal) error { return j.Close() })
}

func (mj *MultiplexedJournal) Shutdown() error {
	return mj.fanOut(func(j Journal) error { return j.Shutdown() })
}

func (mj *MultiplexedJournal) Log(status Status, gtrid uid.Uid, uniqueNames []string) error {
	return mj.fanOut(func(j Journal) error { return j.Log(status, gtrid, uniqueNames) })
}

func (mj *MultiplexedJournal) Force() error {
	return mj.fanOut(func(j Journal) error { return j.Force() })
}

func (mj *MultiplexedJournal) CollectDanglingRecords() (map[string]Record, error) {
	all, err := mj.CollectAllRecords()
	if err != nil {
		return nil, err
	}
	return all.Dangling, nil
}

// CollectAllRecords merges the two legs' views (spec §4.4): committed is
// the union (a record committed on either leg is committed); dangling is
// each leg's dangling set reduced by the unique names the other leg
// already reports committed for that gtrid, since a branch can only be
// missing from one leg's dangling set if it finished there first.
// Corruption found at the same record index on both legs is fatal when
// FailOnRecordCorruption is set; otherwise either leg's clean view of
// that index is trusted. If exactly one leg errors, the failure is
// logged and the other leg's result is returned verbatim (single-journal
// mode); only a failure on both legs is returned to the caller.
func (mj *MultiplexedJournal) CollectAllRecords() (*JournalRecords, error) {
	type legResult struct {
		records *JournalRecords
		err     error
	}
	results := [2]legResult{}
	var wg sync.WaitGroup
	for i, leg := range mj.legs {
		wg.Add(1)
		go func(i int, leg Journal) {
			defer wg.Done()
			r, err := leg.CollectAllRecords()
			results[i] = legResult{records: r, err: err}
		}(i, leg)
	}
	wg.Wait()

	if results[0].err != nil && results[1].err != nil {
		return nil, fmt.Errorf("journal: both legs failed: %v; %v", results[0].err, results[1].err)
	}
	if results[0].err != nil {
		mj.opts.Logger.Warn("journal: leg collectAllRecords failed, falling back to the other leg", "err", results[0].err)
		return results[1].records, nil
	}
	if results[1].err != nil {
		mj.opts.Logger.Warn("journal: leg collectAllRecords failed, falling back to the other leg", "err", results[1].err)
		return results[0].records, nil
	}
	a, b := results[0].records, results[1].records

	shared := intersectSorted(a.Corrupted, b.Corrupted)
	if len(shared) > 0 && mj.opts.FailOnRecordCorruption {
		return nil, &CorruptionError{RecordIndices: shared}
	}

	out := newJournalRecords()
	for k, v := range a.Committed {
		out.Committed[k] = v
	}
	for k, v := range b.Committed {
		out.Committed[k] = v
	}
	for idx := range a.Corrupted {
		out.Corrupted[idx] = struct{}{}
	}
	for idx := range b.Corrupted {
		out.Corrupted[idx] = struct{}{}
	}

	for k, rec := range a.Dangling {
		if other, ok := b.Committed[k]; ok {
			rec = subtractCommittedNames(rec, other)
			if len(rec.UniqueNames) == 0 {
				continue
			}
		}
		out.Dangling[k] = rec
	}
	for k, rec := range b.Dangling {
		if _, already := out.Dangling[k]; already {
			continue
		}
		if other, ok := a.Committed[k]; ok {
			rec = subtractCommittedNames(rec, other)
			if len(rec.UniqueNames) == 0 {
				continue
			}
		}
		out.Dangling[k] = rec
	}

	return out, nil
}

// subtractCommittedNames drops from rec any unique name that committed
// appears to already carry, leaving only the branches still dangling.
func subtractCommittedNames(rec, committed Record) Record {
	out := rec
	out.UniqueNames = nil
	for _, n := range rec.UniqueNames {
		if !committed.HasUniqueName(n) {
			out.UniqueNames = append(out.UniqueNames, n)
		}
	}
	return out
}

func intersectSorted(a, b map[int]struct{}) []int {
	var out []int
	for idx := range a {
		if _, ok := b[idx]; ok {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func (mj *MultiplexedJournal) ReadRecords(includeInvalid bool) (RecordIterator, error) {
	it1, err := mj.legs[0].ReadRecords(includeInvalid)
	if err != nil {
		return nil, err
	}
	it2, err := mj.legs[1].ReadRecords(includeInvalid)
	if err != nil {
		it1.Close()
		return nil, err
	}
	return &chainedIterator{iterators: [2]RecordIterator{it1, it2}}, nil
}

// chainedIterator exposes both legs' raw record streams one after the
// other; it makes no attempt to merge them, since ReadRecords (unlike
// CollectAllRecords) is a diagnostic raw-scan facility (spec §4.3).
type chainedIterator struct {
	iterators [2]RecordIterator
	idx       int
}

func (ci *chainedIterator) Next() bool {
	for ci.idx < len(ci.iterators) {
		if ci.iterators[ci.idx].Next() {
			return true
		}
		ci.idx++
	}
	return false
}

func (ci *chainedIterator) Record() Record {
	return ci.iterators[ci.idx].Record()
}

func (ci *chainedIterator) Corrupted() bool {
	return ci.iterators[ci.idx].Corrupted()
}

func (ci *chainedIterator) Err() error {
	for _, it := range ci.iterators {
		if err := it.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (ci *chainedIterator) Close() error {
	var firstErr error
	for _, it := range ci.iterators {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
