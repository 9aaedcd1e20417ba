package journal

import "github.com/ilyalabun/btm/uid"

// NullJournal discards every Log call and reports empty results on
// every read, per spec §9's "null journal" design note. Useful for
// tests and for deployments that accept no crash-recovery guarantee.
type NullJournal struct{}

var _ Journal = NullJournal{}

func (NullJournal) Open() error     { return nil }
func (NullJournal) Close() error    { return nil }
func (NullJournal) Shutdown() error { return nil }

func (NullJournal) Log(Status, uid.Uid, []string) error { return nil }

func (NullJournal) Force() error { return nil }

func (NullJournal) CollectDanglingRecords() (map[string]Record, error) {
	return map[string]Record{}, nil
}

func (NullJournal) CollectAllRecords() (*JournalRecords, error) {
	return newJournalRecords(), nil
}

func (NullJournal) ReadRecords(includeInvalid bool) (RecordIterator, error) {
	return &emptyIterator{}, nil
}

type emptyIterator struct{}

func (*emptyIterator) Next() bool       { return false }
func (*emptyIterator) Record() Record   { return Record{} }
func (*emptyIterator) Corrupted() bool  { return false }
func (*emptyIterator) Err() error       { return nil }
func (*emptyIterator) Close() error     { return nil }
