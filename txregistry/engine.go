package txregistry

import (
	"context"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// PrepareOutcome is the result of a local TM engine's prepare call, mapped
// onto the corresponding XA vote by ImportedEntry.Prepare.
type PrepareOutcome int32

const (
	PrepareOK PrepareOutcome = iota
	PrepareReadOnly
	PrepareNotOK
	PrepareInvalidTransaction
)

// CompletionStatus is the terminal state passed to a Synchronization's
// AfterCompletion, independent of any particular transaction manager's own
// status enum.
type CompletionStatus int32

const (
	CompletionCommitted CompletionStatus = iota
	CompletionRolledBack
)

// Synchronization is the interposed-synchronization contract the registry
// registers on an imported transaction so it learns when the transaction
// completes locally and can sweep stale entries.
type Synchronization interface {
	BeforeCompletion()
	AfterCompletion(status CompletionStatus)
}

// Transaction is the opaque per-transaction handle the local TM engine
// hands back for an imported (or local) transaction. ImportedEntry drives
// XA completion entirely through this interface; the registry never reaches
// into engine internals.
type Transaction interface {
	DoBeforeCompletion(ctx context.Context) error
	DoPrepare(ctx context.Context) (PrepareOutcome, error)
	DoCommit(ctx context.Context) error
	DoOnePhaseCommit(ctx context.Context) error
	DoRollback(ctx context.Context) error
	DoForget(ctx context.Context) error

	Timeout() uint32
	Xid() txid.SimpleXid
	RegisterInterposedSynchronization(sync Synchronization)
	Activated() bool
	DeferredThrowables() []error
}

// TMEngine is the local transaction manager's global control surface,
// consumed abstractly: begin/suspend/resume and the default-timeout knob.
type TMEngine interface {
	Begin(ctx context.Context, timeoutSeconds uint32) (Transaction, error)
	Suspend(ctx context.Context) (Transaction, error)
	Resume(ctx context.Context, tx Transaction) error
	SetTransactionTimeout(seconds uint32)
	GetTransactionTimeout() uint32
}

// XATerminator is the local engine's import/lookup/recovery surface for
// transactions originated elsewhere.
type XATerminator interface {
	ImportTransaction(ctx context.Context, xid txid.SimpleXid, timeoutSeconds uint32) (tx Transaction, newlyImported bool, err error)
	GetTransaction(xid txid.SimpleXid) (Transaction, bool)
	RemoveImportedTransaction(gtid txid.SimpleXid)
	DoRecover(ctx context.Context, parentName string) ([]txid.SimpleXid, error)
}
