package txregistry

import (
	"errors"
	"fmt"
)

// Engine-reported outcomes, analogous to the heuristic/rollback exceptions
// a local TM engine can throw out of commit/rollback.
var (
	ErrEngineHeuristicMixed    = fmt.Errorf("engine reported a mixed heuristic outcome")
	ErrEngineHeuristicCommit   = fmt.Errorf("engine reported a heuristic commit")
	ErrEngineHeuristicRollback = fmt.Errorf("engine reported a heuristic rollback")
	ErrEngineRollback          = fmt.Errorf("engine rolled back the transaction")
)

// ErrCommitOnImported / ErrRollbackOnImported are returned by the
// commitLocal/rollbackLocal paths, which only make sense for a
// locally-coordinated transaction — an ImportedEntry always refuses them.
var (
	ErrCommitOnImported   = fmt.Errorf("commitLocal called on an imported transaction")
	ErrRollbackOnImported = fmt.Errorf("rollbackLocal called on an imported transaction")
)

// ErrNoSuchImportedTransaction is returned when an xid-keyed operation
// (Commit/Rollback/Forget) targets a gtid with no registered entry.
var ErrNoSuchImportedTransaction = fmt.Errorf("no imported transaction for xid")

// XA error codes, mirroring javax.transaction.xa.XAException's constants.
// Duplicated from txclient's own small const block rather than imported,
// since txregistry has no other reason to depend on txclient and the two
// packages are independent per the module layout.
const (
	XAOK         int32 = 0
	XARDONLY     int32 = 3
	XAHEURMIX    int32 = 5
	XAHEURRB     int32 = 6
	XAHEURCOM    int32 = 7
	XARBROLLBACK int32 = 100
	XARBOTHER    int32 = 104
	XAERRMERR    int32 = -3
	XAERNOTA     int32 = -4
)

// XAError is an XA-protocol-level error carrying a numeric XA code plus an
// optional engine-originated cause. Suppressed carries any deferred
// throwables the engine's atomic-action object exposed at the time of
// failure (spec.md §4.7), attached for diagnostics rather than discarded.
type XAError struct {
	Code       int32
	Cause      error
	Suppressed []error
}

func (e *XAError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("xa error %d: %s", e.Code, e.Cause.Error())
	}
	return fmt.Sprintf("xa error %d", e.Code)
}

func (e *XAError) Unwrap() error { return e.Cause }

// mapEngineErr maps an error raised by Transaction.DoCommit/DoOnePhaseCommit/
// DoRollback to the corresponding XA error code, attaching suppressed as the
// engine's deferred throwables at the time of failure (spec.md §4.7).
func mapEngineErr(err error, suppressed []error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrEngineHeuristicMixed):
		return &XAError{Code: XAHEURMIX, Cause: err, Suppressed: suppressed}
	case errors.Is(err, ErrEngineHeuristicCommit):
		return &XAError{Code: XAHEURCOM, Cause: err, Suppressed: suppressed}
	case errors.Is(err, ErrEngineHeuristicRollback):
		return &XAError{Code: XAHEURRB, Cause: err, Suppressed: suppressed}
	case errors.Is(err, ErrEngineRollback):
		return &XAError{Code: XARBROLLBACK, Cause: err, Suppressed: suppressed}
	default:
		return &XAError{Code: XAERRMERR, Cause: err, Suppressed: suppressed}
	}
}
