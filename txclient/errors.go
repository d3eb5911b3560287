package txclient

import (
	"fmt"

	"github.com/stuartwdouglas/wildfly-transaction-client/txwire"
)

// wftxnError is a sentinel error carrying a stable message id (WFTXNnnnn),
// mirroring the reference implementation's message-logger catalog and the
// corpus convention of embedding a stable identifier on CoreError/
// ServerErrorContext so log scraping keeps working across releases.
type wftxnError struct {
	id      string
	message string
}

func (e wftxnError) Error() string { return e.id + ": " + e.message }

// ID returns the stable WFTXNnnnn identifier for this error.
func (e wftxnError) ID() string { return e.id }

// Transport and protocol errors. These always leave the handle in
// StatusUnknown.
var (
	ErrFailedToSend    = wftxnError{"WFTXN0002", "failed to send request to peer"}
	ErrFailedToReceive = wftxnError{"WFTXN0003", "failed to receive response from peer"}
	ErrResponseFailed  = wftxnError{"WFTXN0004", "response processing failed"}
	ErrProtocolError   = wftxnError{"WFTXN0005", "protocol error"}
	ErrUnknownResponse = wftxnError{"WFTXN0006", "unknown or unparseable response"}
)

// Peer-reported errors. Each carries the parameter id that triggered it via
// PeerError.
var (
	ErrPeerSystemException        = wftxnError{"WFTXN0007", "peer threw a system exception"}
	ErrPeerSecurityException      = wftxnError{"WFTXN0008", "peer threw a security exception"}
	ErrPeerHeuristicMixed         = wftxnError{"WFTXN0009", "peer reported a mixed heuristic outcome"}
	ErrPeerHeuristicRollback      = wftxnError{"WFTXN0010", "peer reported a heuristic rollback"}
	ErrPeerIllegalStateException  = wftxnError{"WFTXN0011", "peer threw an illegal state exception"}
	ErrTransactionRolledBackByPeer = wftxnError{"WFTXN0012", "transaction was rolled back by peer"}
)

// Local state-machine violations. Programmer errors; never retried.
var (
	ErrInvalidTxnState    = wftxnError{"WFTXN0001", "invalid transaction state for requested operation"}
	ErrRollbackOnlyRollback = wftxnError{"WFTXN0013", "commit issued rollback because transaction was marked rollback-only"}
	ErrOperationInterrupted = wftxnError{"WFTXN0014", "operation was interrupted while awaiting a response"}
	ErrAlreadyAssociated  = wftxnError{"WFTXN0015", "xid is already associated"}
	ErrAlreadyEnlisted    = wftxnError{"WFTXN0016", "outflow handle already resolved"}
	ErrAlreadyForgotten   = wftxnError{"WFTXN0017", "branch already forgotten"}
	ErrCommitOnImported   = wftxnError{"WFTXN0018", "commitLocal called on an imported transaction"}
	ErrRollbackOnImported = wftxnError{"WFTXN0019", "rollbackLocal called on an imported transaction"}
)

// Configuration/validation errors. Synchronous, bubble directly to caller.
var (
	ErrNegativeTxnTimeout = wftxnError{"WFTXN0020", "transaction timeout must not be negative"}
	ErrInvalidFlags       = wftxnError{"WFTXN0021", "invalid XA flags"}
	ErrUnknownProvider    = wftxnError{"WFTXN0022", "no provider registered for scheme"}
	ErrNoProviderForURI   = wftxnError{"WFTXN0023", "no provider could handle URI"}
)

// ErrCommitWindowClosed is returned by an attempt to enlist a new outflow
// handle after the owning SubordinateXAResource has already moved past its
// enlistment window.
var ErrCommitWindowClosed = wftxnError{"WFTXN0024", "cannot enlist a new handle after the commit window has closed"}

// PeerError wraps one of the Err Peer* sentinels with the wire parameter id
// that carried it, so callers can distinguish e.g. two different peer system
// exceptions raised on different requests without string-matching.
type PeerError struct {
	ParamID txwire.ParamID
	Cause   error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s (param %s)", e.Cause.Error(), e.ParamID)
}

func (e *PeerError) Unwrap() error { return e.Cause }

// XA error codes, mirroring javax.transaction.xa.XAException's constants.
const (
	XAOK         int32 = 0
	XARDONLY     int32 = 3
	XARETRY      int32 = 4
	XAHEURMIX    int32 = 5
	XAHEURRB     int32 = 6
	XAHEURCOM    int32 = 7
	XARBROLLBACK int32 = 100
	XARBOTHER    int32 = 104
	XAERRMERR    int32 = -3
	XAERNOTA     int32 = -4
	XAERINVAL    int32 = -5
)

// XAError is an XA-protocol-level error: a numeric XA code plus an optional
// underlying cause (e.g. an engine failure or a PeerError), mirroring the
// corpus's pattern of a struct error with a typed field and an Unwrap
// connecting it back to a sentinel class.
type XAError struct {
	Code  int32
	Cause error
}

func (e *XAError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("xa error %d: %s", e.Code, e.Cause.Error())
	}
	return fmt.Sprintf("xa error %d", e.Code)
}

func (e *XAError) Unwrap() error { return e.Cause }
