package txregistry

import (
	"context"

	"go.uber.org/atomic"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// completionBits flags. Monotone: once set, never cleared.
const (
	bitBeforeComp        uint32 = 1 << 0
	bitPrepareOrRollback uint32 = 1 << 1
	bitCommitOrForget    uint32 = 1 << 2
)

// ImportedEntry is the per-gtid control surface for a transaction imported
// from a remote peer: it translates the XA verb sequence into calls on the
// local TM engine's Transaction handle, using a completionBits CAS loop to
// reject any call sequence that violates the start -> end -> beforeCompletion
// -> prepare -> commit|rollback|forget partial order.
type ImportedEntry struct {
	gtid txid.SimpleXid
	tx   Transaction

	completionBits atomic.Uint32
	xidKey         XidKey

	// remove is called once this entry resolves to a terminal outcome that
	// makes it safe to evict immediately (PREPARE_READONLY, PREPARE_NOTOK),
	// rather than waiting for the expiration sweep.
	remove func()
}

func newImportedEntry(gtid txid.SimpleXid, tx Transaction, xidKey XidKey, remove func()) *ImportedEntry {
	return &ImportedEntry{gtid: gtid, tx: tx, xidKey: xidKey, remove: remove}
}

// Gtid returns the global transaction id this entry is keyed by.
func (e *ImportedEntry) Gtid() txid.SimpleXid { return e.gtid }

// tryTransition atomically verifies none of requiredUnsetMask is already
// set, then sets setMask, via CAS loop. Reports whether the transition was
// allowed.
func (e *ImportedEntry) tryTransition(requiredUnsetMask, setMask uint32) bool {
	for {
		cur := e.completionBits.Load()
		if cur&requiredUnsetMask != 0 {
			return false
		}
		if e.completionBits.CAS(cur, cur|setMask) {
			return true
		}
	}
}

var errNotImported = &XAError{Code: XAERNOTA}

// BeforeCompletion runs the engine's before-completion callback exactly
// once.
func (e *ImportedEntry) BeforeCompletion(ctx context.Context) error {
	if !e.tryTransition(bitBeforeComp, bitBeforeComp) {
		return errNotImported
	}
	return e.tx.DoBeforeCompletion(ctx)
}

// Prepare asks the engine to prepare, and maps its outcome onto an XA vote.
func (e *ImportedEntry) Prepare(ctx context.Context) (int32, error) {
	if !e.tryTransition(bitPrepareOrRollback, bitPrepareOrRollback|bitBeforeComp) {
		return 0, errNotImported
	}

	outcome, err := e.tx.DoPrepare(ctx)
	switch outcome {
	case PrepareReadOnly:
		e.evict()
		return XARDONLY, nil
	case PrepareOK:
		return XAOK, nil
	case PrepareNotOK:
		// deferred throwables from the engine's atomic action, if any, ride
		// along as the XAError's Suppressed field rather than being discarded.
		suppressed := e.tx.DeferredThrowables()
		_ = e.tx.DoRollback(ctx)
		e.evict()
		return 0, &XAError{Code: XARBROLLBACK, Cause: err, Suppressed: suppressed}
	case PrepareInvalidTransaction:
		return 0, &XAError{Code: XAERNOTA, Cause: err, Suppressed: e.tx.DeferredThrowables()}
	default:
		return 0, &XAError{Code: XARBOTHER, Cause: err, Suppressed: e.tx.DeferredThrowables()}
	}
}

// Rollback rolls the imported transaction back.
func (e *ImportedEntry) Rollback(ctx context.Context) error {
	if !e.tryTransition(bitPrepareOrRollback, bitPrepareOrRollback|bitBeforeComp) {
		return errNotImported
	}
	err := e.tx.DoRollback(ctx)
	return mapEngineErr(err, e.deferredThrowablesIfFailed(err))
}

// Forget clears a heuristically-completed branch.
func (e *ImportedEntry) Forget(ctx context.Context) error {
	if !e.tryTransition(bitCommitOrForget, bitBeforeComp|bitPrepareOrRollback|bitCommitOrForget) {
		return errNotImported
	}
	err := e.tx.DoForget(ctx)
	return mapEngineErr(err, e.deferredThrowablesIfFailed(err))
}

// Commit commits the imported transaction, one-phase or two-phase.
func (e *ImportedEntry) Commit(ctx context.Context, onePhase bool) error {
	requiredUnset := bitCommitOrForget
	if onePhase {
		requiredUnset |= bitPrepareOrRollback
	}
	if !e.tryTransition(requiredUnset, bitBeforeComp|bitPrepareOrRollback|bitCommitOrForget) {
		return errNotImported
	}

	var err error
	if onePhase {
		err = e.tx.DoOnePhaseCommit(ctx)
	} else {
		err = e.tx.DoCommit(ctx)
	}
	return mapEngineErr(err, e.deferredThrowablesIfFailed(err))
}

// deferredThrowablesIfFailed returns the engine's deferred throwables when
// err is non-nil, avoiding a call on the success path.
func (e *ImportedEntry) deferredThrowablesIfFailed(err error) []error {
	if err == nil {
		return nil
	}
	return e.tx.DeferredThrowables()
}

// CommitLocal/RollbackLocal are the non-XA paths used when the local node
// coordinates; they always refuse on an ImportedEntry, which by
// construction represents a transaction coordinated elsewhere.
func (e *ImportedEntry) CommitLocal(ctx context.Context) error   { return ErrCommitOnImported }
func (e *ImportedEntry) RollbackLocal(ctx context.Context) error { return ErrRollbackOnImported }

func (e *ImportedEntry) evict() {
	if e.remove != nil {
		e.remove()
	}
}
