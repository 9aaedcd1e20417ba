package journal

import (
	"errors"
	"strings"
	"testing"

	"github.com/ilyalabun/btm/uid"
)

// fakeJournal is a minimal in-memory Journal double used to drive
// MultiplexedJournal's merge logic without touching disk.
type fakeJournal struct {
	records       *JournalRecords
	collectAllErr error
	openCalled    bool
	logged        []Status
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{records: newJournalRecords()}
}

func (f *fakeJournal) Open() error  { f.openCalled = true; return nil }
func (f *fakeJournal) Close() error { return nil }
func (f *fakeJournal) Shutdown() error { return nil }
func (f *fakeJournal) Log(status Status, gtrid uid.Uid, uniqueNames []string) error {
	f.logged = append(f.logged, status)
	return nil
}
func (f *fakeJournal) Force() error { return nil }
func (f *fakeJournal) CollectDanglingRecords() (map[string]Record, error) {
	return f.records.Dangling, nil
}
func (f *fakeJournal) CollectAllRecords() (*JournalRecords, error) {
	if f.collectAllErr != nil {
		return nil, f.collectAllErr
	}
	return f.records, nil
}
func (f *fakeJournal) ReadRecords(includeInvalid bool) (RecordIterator, error) {
	return &emptyIterator{}, nil
}

func gtridKey(t *testing.T, seed int32) (uid.Uid, string) {
	t.Helper()
	g, err := uid.New("node1", 1700000000000, seed)
	if err != nil {
		t.Fatal(err)
	}
	return g, g.String()
}

func TestMultiplexedOpenFansOutToBothLegs(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	if err := mj.Open(); err != nil {
		t.Fatal(err)
	}
	if !leg1.openCalled || !leg2.openCalled {
		t.Error("Open did not reach both legs")
	}
}

func TestMultiplexedLogFansOutToBothLegs(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	g, _ := gtridKey(t, 1)
	if err := mj.Log(Committing, g, []string{"mysql"}); err != nil {
		t.Fatal(err)
	}
	if len(leg1.logged) != 1 || len(leg2.logged) != 1 {
		t.Error("Log did not reach both legs")
	}
}

func TestMultiplexedCollectAllRecordsUnionsCommitted(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	g, key := gtridKey(t, 1)
	leg1.records.Committed[key] = Record{Status: Committed, Gtrid: g}

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	all, err := mj.CollectAllRecords()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all.Committed[key]; !ok {
		t.Error("committed record present on only one leg was dropped from the union")
	}
}

func TestMultiplexedCollectAllRecordsDropsDanglingAlreadyCommittedElsewhere(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	g, key := gtridKey(t, 1)
	leg1.records.Dangling[key] = Record{Status: Committing, Gtrid: g, UniqueNames: []string{"mysql"}}
	leg2.records.Committed[key] = Record{Status: Committed, Gtrid: g, UniqueNames: []string{"mysql"}}

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	all, err := mj.CollectAllRecords()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all.Dangling[key]; ok {
		t.Error("dangling record should have been reduced to nothing once the other leg reports it committed")
	}
}

func TestMultiplexedCollectAllRecordsKeepsPartiallyDangling(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	g, key := gtridKey(t, 1)
	leg1.records.Dangling[key] = Record{Status: Committing, Gtrid: g, UniqueNames: []string{"mysql", "kafka"}}
	leg2.records.Committed[key] = Record{Status: Committed, Gtrid: g, UniqueNames: []string{"mysql"}}

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	all, err := mj.CollectAllRecords()
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := all.Dangling[key]
	if !ok {
		t.Fatal("record should still be dangling: kafka branch was never reported committed")
	}
	if rec.HasUniqueName("mysql") {
		t.Error("mysql branch should have been subtracted")
	}
	if !rec.HasUniqueName("kafka") {
		t.Error("kafka branch should remain")
	}
}

func TestMultiplexedCollectAllRecordsFailsOnSharedCorruption(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	leg1.records.Corrupted[3] = struct{}{}
	leg2.records.Corrupted[3] = struct{}{}

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{FailOnRecordCorruption: true})
	_, err := mj.CollectAllRecords()
	if err == nil {
		t.Fatal("expected an error when both legs are corrupted at the same index")
	}
	if !strings.Contains(err.Error(), "Both journals have same corrupted records") {
		t.Errorf("error = %q, want it to mention the shared-corruption wording", err.Error())
	}
	if _, ok := err.(*CorruptionError); !ok {
		t.Errorf("error type = %T, want *CorruptionError", err)
	}
}

func TestMultiplexedCollectAllRecordsToleratesSingleLegCorruption(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	leg1.records.Corrupted[3] = struct{}{}

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{FailOnRecordCorruption: true})
	all, err := mj.CollectAllRecords()
	if err != nil {
		t.Fatalf("corruption on only one leg should not be fatal: %v", err)
	}
	if _, ok := all.Corrupted[3]; !ok {
		t.Error("corrupted index should still be reported even when not fatal")
	}
}

func TestMultiplexedCollectAllRecordsNotFatalWhenFlagOff(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	leg1.records.Corrupted[3] = struct{}{}
	leg2.records.Corrupted[3] = struct{}{}

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{FailOnRecordCorruption: false})
	if _, err := mj.CollectAllRecords(); err != nil {
		t.Fatalf("FailOnRecordCorruption disabled should never fail: %v", err)
	}
}

func TestMultiplexedCollectAllRecordsFallsBackOnSingleLegError(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	g, key := gtridKey(t, 1)
	leg2.records.Committed[key] = Record{Status: Committed, Gtrid: g}
	leg1.collectAllErr = errors.New("leg1 disk unavailable")

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	all, err := mj.CollectAllRecords()
	if err != nil {
		t.Fatalf("a single failed leg should fall back to the other, got error: %v", err)
	}
	if _, ok := all.Committed[key]; !ok {
		t.Error("fallback result should be leg2's CollectAllRecords verbatim")
	}
}

func TestMultiplexedCollectAllRecordsFailsWhenBothLegsError(t *testing.T) {
	leg1, leg2 := newFakeJournal(), newFakeJournal()
	leg1.collectAllErr = errors.New("leg1 disk unavailable")
	leg2.collectAllErr = errors.New("leg2 disk unavailable")

	mj := NewMultiplexed(leg1, leg2, MultiplexedOptions{})
	if _, err := mj.CollectAllRecords(); err == nil {
		t.Error("CollectAllRecords with both legs erroring = nil error, want error")
	}
}
