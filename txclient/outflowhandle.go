package txclient

import (
	"go.uber.org/atomic"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// outflow word layout: bit 0 = committed, bit 1 = anyVerified, bits 2..31 =
// openCount. Packing these into one machine word lets every transition be a
// single CAS, mirroring transactionsx.transactionAttempt's stateBits packing
// of multiple independent flags into one atomic word.
const (
	outflowCommittedBit   uint32 = 1 << 0
	outflowAnyVerifiedBit uint32 = 1 << 1
	outflowCountShift            = 2
	outflowCountUnit      uint32 = 1 << outflowCountShift
)

// outflowState is the per-branch enlistment accounting word owned by a
// SubordinateXAResource and shared by every XAOutflowHandle it has issued.
type outflowState struct {
	word atomic.Uint32
}

// open increments openCount, failing if the commit window has already
// closed (the outer transaction has moved past the enlistment window).
func (s *outflowState) open() error {
	for {
		cur := s.word.Load()
		if cur&outflowCommittedBit != 0 {
			return ErrCommitWindowClosed
		}
		if s.word.CAS(cur, cur+outflowCountUnit) {
			return nil
		}
	}
}

func (s *outflowState) forgetOne() {
	for {
		cur := s.word.Load()
		if s.word.CAS(cur, cur-outflowCountUnit) {
			return
		}
	}
}

func (s *outflowState) nonMasterOne() {
	for {
		cur := s.word.Load()
		if s.word.CAS(cur, cur-outflowCountUnit) {
			return
		}
	}
}

// verifyOne decrements openCount and latches anyVerified.
func (s *outflowState) verifyOne() {
	for {
		cur := s.word.Load()
		next := (cur - outflowCountUnit) | outflowAnyVerifiedBit
		if s.word.CAS(cur, next) {
			return
		}
	}
}

// commit latches the committed bit and reports whether any handle ever
// verified its enlistment, deciding whether the branch must actually
// participate in 2PC.
func (s *outflowState) commit() bool {
	for {
		cur := s.word.Load()
		next := cur | outflowCommittedBit
		if s.word.CAS(cur, next) {
			return cur&outflowAnyVerifiedBit != 0
		}
	}
}

func (s *outflowState) openCount() uint32 {
	return s.word.Load() >> outflowCountShift
}

// XAOutflowHandle is a one-shot receipt for a single enlistment of a remote
// branch into a locally-coordinated transaction. Exactly one of
// ForgetEnlistment, NonMasterEnlistment, or VerifyEnlistment may succeed;
// every other call (including repeats of the same method) fails with
// ErrAlreadyEnlisted. GetXid and GetRemainingTime are read-only and may be
// called any number of times, including after the handle has resolved.
type XAOutflowHandle interface {
	ForgetEnlistment() error
	NonMasterEnlistment() error
	VerifyEnlistment() error
	GetXid() (txid.SimpleXid, bool)
	GetRemainingTime() uint32
}

type xaOutflowHandle struct {
	state    *outflowState
	resource *SubordinateXAResource
	done     atomic.Bool
}

func newXAOutflowHandle(state *outflowState, resource *SubordinateXAResource) *xaOutflowHandle {
	return &xaOutflowHandle{state: state, resource: resource}
}

// GetXid returns the branch xid associated with the owning
// SubordinateXAResource, delegating since the xid is a property of the
// resource rather than of any one outflow handle.
func (h *xaOutflowHandle) GetXid() (txid.SimpleXid, bool) {
	return h.resource.Xid()
}

// GetRemainingTime delegates to the owning SubordinateXAResource's branch
// timeout countdown.
func (h *xaOutflowHandle) GetRemainingTime() uint32 {
	return h.resource.GetRemainingTime()
}

func (h *xaOutflowHandle) resolve(action func()) error {
	if !h.done.CAS(false, true) {
		return ErrAlreadyEnlisted
	}
	action()
	return nil
}

func (h *xaOutflowHandle) ForgetEnlistment() error {
	return h.resolve(h.state.forgetOne)
}

func (h *xaOutflowHandle) NonMasterEnlistment() error {
	return h.resolve(h.state.nonMasterOne)
}

func (h *xaOutflowHandle) VerifyEnlistment() error {
	return h.resolve(h.state.verifyOne)
}
