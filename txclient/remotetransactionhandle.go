package txclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/stuartwdouglas/wildfly-transaction-client/txinvoke"
	"github.com/stuartwdouglas/wildfly-transaction-client/txwire"
)

var tracer = otel.Tracer("github.com/stuartwdouglas/wildfly-transaction-client/txclient")

// RemoteTransactionHandle is the client-side representation of a user
// transaction living on a remote peer. It drives begin/commit/rollback
// against the peer over the UT wire protocol, with a single coarse mutex
// guarding every state-changing operation: the optimistic status read
// outside the lock is a fast-path veto only, every real transition
// re-verifies under the lock, and all network I/O for the handle happens
// while that lock is held. This mirrors transactionsx.transactionAttempt's
// combination of an atomic state word with a mutex taken for the duration
// of any network round-trip.
type RemoteTransactionHandle struct {
	id      uint32
	channel Channel
	tracker *txinvoke.Tracker
	logger  *zap.Logger

	mu     sync.Mutex
	status atomic.Int32
}

// NewRemoteTransactionHandle constructs a handle in StatusNoTransaction for
// the peer-assigned context id. The channel's close callback is wired to
// Disconnect, so losing the channel presumes every live handle it hosts
// aborted (spec.md §5).
func NewRemoteTransactionHandle(id uint32, channel Channel, tracker *txinvoke.Tracker, logger *zap.Logger) *RemoteTransactionHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RemoteTransactionHandle{
		id:      id,
		channel: channel,
		tracker: tracker,
		logger:  logger,
	}
	h.status.Store(int32(StatusNoTransaction))
	channel.OnClose(h.Disconnect)
	return h
}

// baseParams returns the parameters every UT verb carries: the
// peer-assigned context id identifying which transaction on the shared
// channel this request targets, plus the peer-identity security context if
// one is established (P_SEC_CONTEXT is omitted when 0, per spec.md §4.1).
func (h *RemoteTransactionHandle) baseParams() []txwire.Param {
	params := []txwire.Param{txwire.ParamUnsigned(txwire.ParamTxnContext, h.id)}
	if secID := h.channel.PeerIdentityID(); secID != 0 {
		params = append(params, txwire.ParamUnsigned(txwire.ParamSecContext, secID))
	}
	return params
}

// Status returns the handle's current lifecycle state.
func (h *RemoteTransactionHandle) Status() Status {
	return Status(h.status.Load())
}

// Begin starts the remote transaction with the given timeout in seconds.
func (h *RemoteTransactionHandle) Begin(ctx context.Context, timeoutSec int32) (err error) {
	ctx, span := tracer.Start(ctx, "txclient.RemoteTransactionHandle.Begin")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if timeoutSec < 0 {
		return ErrNegativeTxnTimeout
	}

	if Status(h.status.Load()) != StatusNoTransaction {
		return ErrInvalidTxnState
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if Status(h.status.Load()) != StatusNoTransaction {
		return ErrInvalidTxnState
	}

	resp, err := txinvoke.Call(ctx, h.tracker, h.channel, func(reqID uint16) *txwire.Message {
		params := h.baseParams()
		if timeoutSec != 0 {
			params = append(params, txwire.ParamUnsigned(txwire.ParamTxnTimeout, uint32(timeoutSec)))
		}
		return &txwire.Message{RequestID: reqID, OpCode: txwire.OpUTBegin, Params: params}
	})
	if err != nil {
		h.status.Store(int32(StatusUnknown))
		return classifyTransportErr(err)
	}

	if resp.OpCode != txwire.OpRespUTBegin {
		h.status.Store(int32(StatusUnknown))
		return ErrUnknownResponse
	}

	if perr := classifyResponseError(resp); perr != nil {
		if errors.Is(perr, ErrPeerSecurityException) {
			// begin does not restore anything — it was never active.
			return perr
		}
		h.status.Store(int32(StatusUnknown))
		return perr
	}

	h.status.Store(int32(StatusActive))
	h.logger.Debug("remote transaction began", zap.Uint32("contextId", h.id))
	return nil
}

// Commit commits the remote transaction. If the handle was marked
// rollback-only, commit internally performs a rollback and fails with
// ErrRollbackOnlyRollback instead.
func (h *RemoteTransactionHandle) Commit(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "txclient.RemoteTransactionHandle.Commit")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.finalizeTransient()

	cur := Status(h.status.Load())
	if cur != StatusActive && cur != StatusMarkedRollback {
		return ErrInvalidTxnState
	}

	if cur == StatusMarkedRollback {
		if err := h.doRollback(ctx, cur); err != nil {
			return err
		}
		return ErrRollbackOnlyRollback
	}

	h.status.Store(int32(StatusCommitting))
	resp, err := txinvoke.Call(ctx, h.tracker, h.channel, func(reqID uint16) *txwire.Message {
		return &txwire.Message{RequestID: reqID, OpCode: txwire.OpUTCommit, Params: h.baseParams()}
	})
	if err != nil {
		h.status.Store(int32(StatusUnknown))
		return classifyTransportErr(err)
	}

	if resp.OpCode != txwire.OpRespUTCommit {
		h.status.Store(int32(StatusUnknown))
		return ErrUnknownResponse
	}

	if perr := classifyResponseError(resp); perr != nil {
		switch {
		case errors.Is(perr, ErrTransactionRolledBackByPeer):
			h.status.Store(int32(StatusRolledBack))
		case errors.Is(perr, ErrPeerSecurityException):
			h.status.Store(int32(cur))
		default:
			h.status.Store(int32(StatusUnknown))
		}
		return perr
	}

	h.status.Store(int32(StatusCommitted))
	h.logger.Debug("remote transaction committed", zap.Uint32("contextId", h.id))
	return nil
}

// Rollback rolls back the remote transaction.
func (h *RemoteTransactionHandle) Rollback(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "txclient.RemoteTransactionHandle.Rollback")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.finalizeTransient()

	cur := Status(h.status.Load())
	if cur != StatusActive && cur != StatusMarkedRollback {
		return ErrInvalidTxnState
	}

	return h.doRollback(ctx, cur)
}

// doRollback issues the wire rollback call. priorStatus is what to restore
// on a peer security exception. Caller must hold h.mu.
func (h *RemoteTransactionHandle) doRollback(ctx context.Context, priorStatus Status) error {
	h.status.Store(int32(StatusRollingBack))
	resp, err := txinvoke.Call(ctx, h.tracker, h.channel, func(reqID uint16) *txwire.Message {
		return &txwire.Message{RequestID: reqID, OpCode: txwire.OpUTRollback, Params: h.baseParams()}
	})
	if err != nil {
		h.status.Store(int32(StatusUnknown))
		return classifyTransportErr(err)
	}

	if resp.OpCode != txwire.OpRespUTRollback {
		h.status.Store(int32(StatusUnknown))
		return ErrUnknownResponse
	}

	if perr := classifyResponseError(resp); perr != nil {
		if errors.Is(perr, ErrPeerSecurityException) {
			h.status.Store(int32(priorStatus))
		} else {
			h.status.Store(int32(StatusUnknown))
		}
		return perr
	}

	h.status.Store(int32(StatusRolledBack))
	h.logger.Debug("remote transaction rolled back", zap.Uint32("contextId", h.id))
	return nil
}

// SetRollbackOnly marks the transaction for rollback. Idempotent.
func (h *RemoteTransactionHandle) SetRollbackOnly() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := Status(h.status.Load())
	if cur != StatusActive && cur != StatusMarkedRollback {
		return ErrInvalidTxnState
	}

	h.status.Store(int32(StatusMarkedRollback))
	return nil
}

// Disconnect marks the handle ROLLEDBACK if it was live, on the assumption
// that an unreachable peer means the transaction has been presumed aborted.
// Silent if the handle wasn't live.
func (h *RemoteTransactionHandle) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := Status(h.status.Load())
	if cur == StatusActive || cur == StatusMarkedRollback {
		h.status.Store(int32(StatusRolledBack))
	}
}

// finalizeTransient collapses any residual COMMITTING/ROLLING_BACK left by
// an unanticipated exit path to UNKNOWN, so the handle is never observed in
// a transient state once the call returns. Caller must hold h.mu.
func (h *RemoteTransactionHandle) finalizeTransient() {
	cur := Status(h.status.Load())
	if cur == StatusCommitting || cur == StatusRollingBack {
		h.status.Store(int32(StatusUnknown))
	}
}

// classifyResponseError reads a response's TLV parameters and returns the
// error corresponding to the first error parameter seen, or nil if the
// response carries none. An unrecognized parameter id collapses to a
// protocol error.
func classifyResponseError(resp *txwire.Message) error {
	for _, p := range resp.Params {
		switch p.ID {
		case txwire.ParamUTIsExc:
			return &PeerError{ParamID: p.ID, Cause: ErrPeerIllegalStateException}
		case txwire.ParamUTSysExc:
			return &PeerError{ParamID: p.ID, Cause: ErrPeerSystemException}
		case txwire.ParamUTRbExc:
			return &PeerError{ParamID: p.ID, Cause: ErrTransactionRolledBackByPeer}
		case txwire.ParamUTHmeExc:
			return &PeerError{ParamID: p.ID, Cause: ErrPeerHeuristicMixed}
		case txwire.ParamUTHreExc:
			return &PeerError{ParamID: p.ID, Cause: ErrPeerHeuristicRollback}
		case txwire.ParamSecExc:
			return &PeerError{ParamID: p.ID, Cause: ErrPeerSecurityException}
		default:
			return &PeerError{ParamID: p.ID, Cause: ErrProtocolError}
		}
	}
	return nil
}

// classifyTransportErr maps a raw txinvoke.Call error to the taxonomy in
// section 7: context cancellation is an interruption (ErrOperationInterrupted
// wrapping the context's own error, so both match errors.Is), everything else is
// treated as a failed send (the common case; a failure while a response was
// already in flight is rarer and surfaces the same way since the invocation
// layer does not distinguish the two once the request left the channel).
func classifyTransportErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrOperationInterrupted, err)
	}
	return ErrFailedToSend
}
