package txclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// XA flag constants, mirroring javax.transaction.xa.XAResource.
const (
	TMNoFlags  int32 = 0
	TMJoin     int32 = 0x00200000
	TMResume   int32 = 0x08000000
	TMSuccess  int32 = 0x04000000
	TMFail     int32 = 0x20000000
	TMOnePhase int32 = 0x40000000
)

// DefaultXATimeoutSeconds is the default branch timeout: 12 hours.
const DefaultXATimeoutSeconds uint32 = 43200

// SubordinateXAResource is the local XAResource facade for a remote branch:
// it participates in the local transaction manager's 2PC as an ordinary
// resource manager, but its actual commit/rollback decision is realized as
// a single UT verb against the peer through the RemoteTransactionHandle it
// fronts. Because the wire protocol is flat (no separate XA prepare
// message), "prepare" never talks to the peer — it only consults the
// outflow enlistment bookkeeping to decide whether this branch has
// anything to vote on at all.
type SubordinateXAResource struct {
	location   *url.URL
	parentName string
	handle     *RemoteTransactionHandle
	logger     *zap.Logger

	mu              sync.Mutex
	timeout         uint32
	startTime       time.Time
	capturedTimeout uint32
	xid             txid.SimpleXid
	hasXid          bool

	outflow outflowState
}

// NewSubordinateXAResource constructs a resource fronting handle, addressed
// at location for isSameRM comparisons and identified by parentName for
// diagnostics/recovery.
func NewSubordinateXAResource(location *url.URL, parentName string, handle *RemoteTransactionHandle, logger *zap.Logger) *SubordinateXAResource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubordinateXAResource{
		location:   location,
		parentName: parentName,
		handle:     handle,
		logger:     logger,
		timeout:    DefaultXATimeoutSeconds,
	}
}

// AddHandle enlists one more participant in the outer transaction against
// this branch, returning a one-shot XAOutflowHandle that must be resolved by
// the caller once it knows whether it actually needs this branch in 2PC.
func (r *SubordinateXAResource) AddHandle() (XAOutflowHandle, error) {
	if err := r.outflow.open(); err != nil {
		return nil, err
	}
	return newXAOutflowHandle(&r.outflow, r), nil
}

// Xid returns the branch xid currently associated with this resource by
// Start, and whether one is associated at all.
func (r *SubordinateXAResource) Xid() (txid.SimpleXid, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.xid, r.hasXid
}

// Start associates xid with this resource.
func (r *SubordinateXAResource) Start(xid txid.SimpleXid, flags int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasXid && flags&(TMJoin|TMResume) == 0 {
		return ErrAlreadyAssociated
	}

	r.xid = xid
	r.hasXid = true
	r.startTime = time.Now()
	r.capturedTimeout = r.timeout
	return nil
}

// End disassociates xid from the current thread of control. The
// TMFAIL branch intentionally does nothing: the reference implementation
// carries an unreachable `if (false /* JBTM-2846 */)` guard here that would
// have marked the branch rollback-only, but the shipped code never executes
// it, so the behavior preserved here is a no-op.
func (r *SubordinateXAResource) End(xid txid.SimpleXid, flags int32) error {
	if flags == TMFail {
		// JBTM-2846: marking rollback-only here is unreachable upstream.
	}
	return nil
}

// Prepare never contacts the peer: the wire protocol has no separate
// prepare message, so the vote is entirely a function of whether any handle
// ever called VerifyEnlistment.
func (r *SubordinateXAResource) Prepare(ctx context.Context) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CommitToEnlistment() {
		return XAOK, nil
	}
	return XARDONLY, nil
}

// CommitToEnlistment latches the outflow word's committed bit and reports
// whether any enlisted handle ever verified, deciding whether this branch
// has anything to commit or roll back at all. Safe to call more than once;
// later calls observe the value latched by the first.
func (r *SubordinateXAResource) CommitToEnlistment() bool {
	return r.outflow.commit()
}

// Commit issues the remote commit, or does nothing if no handle ever
// verified its enlistment (a read-only branch the TM should not be
// committing in the first place, but defended against regardless).
func (r *SubordinateXAResource) Commit(ctx context.Context, onePhase bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.CommitToEnlistment() {
		return nil
	}
	if r.handle == nil {
		return &XAError{Code: XAERRMERR, Cause: ErrInvalidTxnState}
	}
	if err := r.handle.Commit(ctx); err != nil {
		return mapToXAError(err)
	}
	return nil
}

// Rollback issues the remote rollback, or does nothing if no handle ever
// verified its enlistment.
func (r *SubordinateXAResource) Rollback(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.CommitToEnlistment() {
		return nil
	}
	if r.handle == nil {
		return &XAError{Code: XAERRMERR, Cause: ErrInvalidTxnState}
	}
	if err := r.handle.Rollback(ctx); err != nil {
		return mapToXAError(err)
	}
	return nil
}

// Forget clears the resource's association with xid after a heuristic
// outcome. No wire traffic: the peer has already resolved the branch one
// way or another by the time forget is called.
func (r *SubordinateXAResource) Forget(xid txid.SimpleXid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasXid = false
	return nil
}

// IsSameRM compares resource managers by peer location, as spec'd: two
// branches talking to the same peer URI are the same resource manager.
func (r *SubordinateXAResource) IsSameRM(other *SubordinateXAResource) bool {
	if other == nil || r.location == nil || other.location == nil {
		return false
	}
	return r.location.String() == other.location.String()
}

// GetTransactionTimeout returns the currently configured branch timeout.
func (r *SubordinateXAResource) GetTransactionTimeout() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

// SetTransactionTimeout sets the branch timeout; 0 resets to the default,
// negative values are rejected synchronously.
func (r *SubordinateXAResource) SetTransactionTimeout(seconds int32) error {
	if seconds < 0 {
		return ErrNegativeTxnTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if seconds == 0 {
		r.timeout = DefaultXATimeoutSeconds
	} else {
		r.timeout = uint32(seconds)
	}
	return nil
}

// GetRemainingTime returns capturedTimeout - elapsed, clamped at 0.
func (r *SubordinateXAResource) GetRemainingTime() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := uint32(time.Since(r.startTime).Seconds())
	if elapsed >= r.capturedTimeout {
		return 0
	}
	return r.capturedTimeout - elapsed
}

// mapToXAError maps a RemoteTransactionHandle error to an XA error code,
// analogous to the engine-error mapping table in the imported-transaction
// registry's prepare/commit/rollback verbs, applied here on the outflow
// side of the same wire exchange.
func mapToXAError(err error) error {
	var peerErr *PeerError
	if errors.As(err, &peerErr) {
		switch {
		case errors.Is(peerErr, ErrTransactionRolledBackByPeer):
			return &XAError{Code: XARBROLLBACK, Cause: err}
		case errors.Is(peerErr, ErrPeerHeuristicMixed):
			return &XAError{Code: XAHEURMIX, Cause: err}
		case errors.Is(peerErr, ErrPeerHeuristicRollback):
			return &XAError{Code: XAHEURRB, Cause: err}
		default:
			return &XAError{Code: XAERRMERR, Cause: err}
		}
	}
	if errors.Is(err, ErrRollbackOnlyRollback) {
		return &XAError{Code: XARBROLLBACK, Cause: err}
	}
	return &XAError{Code: XAERRMERR, Cause: err}
}

// serializedXAResource is the only state persisted for a SubordinateXAResource:
// enough to reconstruct it for recovery within a single process. Wire
// compatibility across processes/releases is not required.
type serializedXAResource struct {
	Location   string `json:"location"`
	ParentName string `json:"parentName"`
}

// MarshalBinary persists the (location, parentName) pair only.
func (r *SubordinateXAResource) MarshalBinary() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(serializedXAResource{
		Location:   r.location.String(),
		ParentName: r.parentName,
	})
}

// UnmarshalSubordinateXAResource reconstructs a resource from its persisted
// (location, parentName) form with a fresh, unresolved outflow state (word
// == 0), binding it to handle for any subsequent recovery commit/rollback.
func UnmarshalSubordinateXAResource(data []byte, handle *RemoteTransactionHandle, logger *zap.Logger) (*SubordinateXAResource, error) {
	var s serializedXAResource
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	loc, err := url.Parse(s.Location)
	if err != nil {
		return nil, err
	}
	return NewSubordinateXAResource(loc, s.ParentName, handle, logger), nil
}
