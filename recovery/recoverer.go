// Package recovery implements presumed-abort crash recovery (spec
// §4.5): on each run, every resource's own in-doubt branch list is
// reconciled against the journal's dangling records, committing what
// the journal says committed, rolling back everything else, and
// skipping branches too young to trust (they may belong to a commit
// still in flight on another thread).
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ilyalabun/btm/journal"
	"github.com/ilyalabun/btm/resource"
	"github.com/ilyalabun/btm/uid"
)

// Options configures a Recoverer (spec §6's recoverer-related settings).
type Options struct {
	// InFlightSkew is how recently a branch's gtrid must have been
	// minted for the recoverer to treat it as possibly still in flight
	// on another thread and skip it this run, rather than act on it.
	InFlightSkew time.Duration
	// FormatID is this manager's fixed Xid format id (spec §3): only
	// in-doubt Xids reporting this format id are ever recovered, so a
	// shared resource manager's branches belonging to some other
	// transaction manager are left untouched.
	FormatID int32
	// ServerID and CurrentNodeOnlyRecovery implement spec §4.5 step 3b's
	// optional restriction to branches whose gtrid was minted by this
	// node.
	ServerID                string
	CurrentNodeOnlyRecovery bool
	Now                     func() time.Time
	Logger                  *slog.Logger
}

// Result summarizes one recovery run.
type Result struct {
	Committed       []uid.Xid
	RolledBack      []uid.Xid
	Skipped         []uid.Xid
	ExecutionsCount int64
}

// Recoverer runs presumed-abort recovery against a Journal and a
// resource.Registry. It is reentrancy-safe: concurrent calls to Recover
// collapse into a single run, grounded on andreyvit-journal's
// journalWriter writeLock-guarded single-flight pattern
// (journalwriter.go's StartWriting/writable flag), adapted here from a
// mutex-guarded bool to an atomic since Recover must fail fast rather
// than block when already running.
type Recoverer struct {
	j        journal.Journal
	registry *resource.Registry
	opts     Options

	running    atomic.Bool
	executions atomic.Int64

	mu         sync.Mutex
	lastResult Result
	lastRunAt  time.Time
}

// ErrAlreadyRunning is returned by Recover when another run is already
// in progress; the caller that lost the race gets no result, but the
// winning run's ExecutionsCount still reflects the whole batch.
var ErrAlreadyRunning = &alreadyRunningError{}

type alreadyRunningError struct{}

func (*alreadyRunningError) Error() string { return "recovery: a run is already in progress" }

// New constructs a Recoverer over j and registry.
func New(j journal.Journal, registry *resource.Registry, o Options) *Recoverer {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Recoverer{j: j, registry: registry, opts: o}
}

// ExecutionsCount reports how many recovery runs have actually executed
// (not counting calls that lost the reentrancy race).
func (r *Recoverer) ExecutionsCount() int64 { return r.executions.Load() }

// Recover performs one full recovery pass across every registered
// resource. If a pass is already running, it returns ErrAlreadyRunning
// immediately rather than waiting.
func (r *Recoverer) Recover(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	r.executions.Add(1)

	result, err := r.runOnce(ctx)
	if err == nil {
		r.mu.Lock()
		r.lastResult = result
		r.lastRunAt = r.opts.Now()
		r.mu.Unlock()
	}
	return result, err
}

func (r *Recoverer) runOnce(ctx context.Context) (Result, error) {
	t0 := r.opts.Now()

	all, err := r.j.CollectAllRecords()
	if err != nil {
		return Result{}, err
	}
	dangling := all.Dangling

	var result Result
	for _, res := range r.registry.All() {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := r.recoverOne(res, dangling, t0, &result); err != nil {
			r.opts.Logger.Error("recovery: resource recover failed", "resource", res.UniqueName(), "err", err)
		}
	}
	result.ExecutionsCount = r.executions.Load()
	return result, nil
}

// IncrementalRecoverer recovers a single resource without a full pass
// across the registry (spec.md §4.5's incremental recoverer), for a
// resource that registers while the manager is already running. This is
// the only recovery path allowed to run concurrently with live
// transactions, so it bypasses the full-run reentrancy guard entirely.
type IncrementalRecoverer interface {
	RecoverResource(ctx context.Context, res resource.Resource) (Result, error)
}

var _ IncrementalRecoverer = (*Recoverer)(nil)

// RecoverResource runs the same commit/skip/rollback algorithm as
// Recover, restricted to res alone (spec §4.5's "incremental
// recoverer"). It does not take the reentrancy guard and does not
// advance ExecutionsCount, since it is a narrower, concurrently-safe
// path rather than another full run.
func (r *Recoverer) RecoverResource(ctx context.Context, res resource.Resource) (Result, error) {
	t0 := r.opts.Now()

	all, err := r.j.CollectAllRecords()
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := r.recoverOne(res, all.Dangling, t0, &result); err != nil {
		return result, err
	}
	result.ExecutionsCount = r.executions.Load()
	return result, nil
}

// recoverOne reconciles one resource's in-doubt branches against
// dangling (spec §4.5 steps 3-4). dangling is mutated in place: a
// committed branch has its resource name removed from the record, and
// once a gtrid's name set empties out, COMMITTED is logged for it and
// it is dropped from dangling so no other resource in this run (or a
// later incremental recovery) re-commits it.
func (r *Recoverer) recoverOne(res resource.Resource, dangling map[string]journal.Record, t0 time.Time, result *Result) error {
	xids, err := res.Recover(resource.RecoveryFlags{StartRscan: true, EndRscan: true})
	if err != nil {
		return err
	}

	for _, xid := range xids {
		if xid.FormatID != r.opts.FormatID {
			// Not one of this manager's own Xids (spec §4.5 step 3b):
			// leave it for whichever transaction manager minted it.
			continue
		}
		if r.opts.CurrentNodeOnlyRecovery && !xid.Gtrid.HasServerIDPrefix(r.opts.ServerID) {
			continue
		}

		key := xid.Gtrid.String()
		rec, known := dangling[key]

		if known && rec.Status == journal.Committing && rec.HasUniqueName(res.UniqueName()) {
			if err := res.Commit(xid, false); err != nil {
				r.opts.Logger.Error("recovery: commit failed", "resource", res.UniqueName(), "xid", xid.String(), "err", err)
				continue
			}
			result.Committed = append(result.Committed, xid)

			remaining := rec.WithoutUniqueName(res.UniqueName())
			if len(remaining.UniqueNames) == 0 {
				if err := r.j.Log(journal.Committed, rec.Gtrid, rec.UniqueNames); err != nil {
					r.opts.Logger.Error("recovery: logging COMMITTED failed", "gtrid", rec.Gtrid.String(), "err", err)
				}
				delete(dangling, key)
			} else {
				dangling[key] = remaining
			}
			continue
		}

		// Skip-in-flight rule (spec §4.5 detail floor): a branch whose
		// gtrid was minted within InFlightSkew of T0 may belong to a
		// two-phase commit still between phase 1 and phase 2 on this
		// node; rolling it back here would violate atomicity. This is
		// evaluated unconditionally, not only for branches the journal
		// already knows about, since a transaction still in PREPARING
		// has no COMMITTING record yet.
		age := t0.UnixMilli() - xid.Gtrid.Timestamp()
		if age < r.opts.InFlightSkew.Milliseconds() {
			result.Skipped = append(result.Skipped, xid)
			continue
		}

		// Presumed abort: no record of this gtrid, a record that never
		// reached COMMITTING, or a COMMITTING record this resource's
		// name isn't part of, all mean the transaction manager never
		// confirmed the commit decision to this branch.
		if err := res.Rollback(xid); err != nil {
			r.opts.Logger.Error("recovery: rollback failed", "resource", res.UniqueName(), "xid", xid.String(), "err", err)
			continue
		}
		result.RolledBack = append(result.RolledBack, xid)
	}
	return nil
}
