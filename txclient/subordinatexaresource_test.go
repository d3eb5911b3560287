package txclient

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stuartwdouglas/wildfly-transaction-client/txinvoke"
	"github.com/stuartwdouglas/wildfly-transaction-client/txwire"
)

func newTestResource(t *testing.T, respond func(req *txwire.Message) *txwire.Message) (*SubordinateXAResource, *fakeChannel) {
	t.Helper()
	tracker := txinvoke.NewTracker()
	ch := newFakeChannel(tracker, respond)
	handle := NewRemoteTransactionHandle(1, ch, tracker, nil)
	loc, _ := url.Parse("remote://peer1")
	return NewSubordinateXAResource(loc, "parent", handle, nil), ch
}

func TestOutflowDeduplicationOneVerifiedHandleCommits(t *testing.T) {
	var commitSent int
	res, ch := newTestResource(t, func(req *txwire.Message) *txwire.Message {
		switch req.OpCode {
		case txwire.OpUTBegin:
			return &txwire.Message{OpCode: txwire.OpRespUTBegin}
		case txwire.OpUTCommit:
			commitSent++
			return &txwire.Message{OpCode: txwire.OpRespUTCommit}
		}
		return nil
	})
	// The fronted handle must be ACTIVE for the branch commit to reach the peer.
	require.NoError(t, res.handle.Begin(context.Background(), 30))

	h1, err := res.AddHandle()
	require.NoError(t, err)
	h2, err := res.AddHandle()
	require.NoError(t, err)
	h3, err := res.AddHandle()
	require.NoError(t, err)

	require.NoError(t, h1.ForgetEnlistment())
	require.NoError(t, h2.ForgetEnlistment())
	require.NoError(t, h3.VerifyEnlistment())

	vote, err := res.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, XAOK, vote)

	require.NoError(t, res.Commit(context.Background(), false))
	require.Equal(t, 1, commitSent)
	_ = ch
}

func TestOutflowAllForgottenPrepareReadOnlyNoWireTraffic(t *testing.T) {
	res, ch := newTestResource(t, func(req *txwire.Message) *txwire.Message {
		t.Fatalf("no wire traffic expected, got opcode %v", req.OpCode)
		return nil
	})

	h1, err := res.AddHandle()
	require.NoError(t, err)
	h2, err := res.AddHandle()
	require.NoError(t, err)
	h3, err := res.AddHandle()
	require.NoError(t, err)

	require.NoError(t, h1.ForgetEnlistment())
	require.NoError(t, h2.ForgetEnlistment())
	require.NoError(t, h3.ForgetEnlistment())

	vote, err := res.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, XARDONLY, vote)
	require.Empty(t, ch.sent)
}

func TestHandleResolvedExactlyOnce(t *testing.T) {
	res, _ := newTestResource(t, func(req *txwire.Message) *txwire.Message { return nil })

	h, err := res.AddHandle()
	require.NoError(t, err)

	require.NoError(t, h.VerifyEnlistment())
	require.ErrorIs(t, h.VerifyEnlistment(), ErrAlreadyEnlisted)
	require.ErrorIs(t, h.ForgetEnlistment(), ErrAlreadyEnlisted)
	require.ErrorIs(t, h.NonMasterEnlistment(), ErrAlreadyEnlisted)
}

func TestOpenAfterCommitWindowClosedFails(t *testing.T) {
	res, _ := newTestResource(t, func(req *txwire.Message) *txwire.Message { return nil })

	_, err := res.AddHandle()
	require.NoError(t, err)

	res.CommitToEnlistment()

	_, err = res.AddHandle()
	require.ErrorIs(t, err, ErrCommitWindowClosed)
}

func TestSetTransactionTimeoutValidation(t *testing.T) {
	res, _ := newTestResource(t, func(req *txwire.Message) *txwire.Message { return nil })

	require.ErrorIs(t, res.SetTransactionTimeout(-1), ErrNegativeTxnTimeout)

	require.NoError(t, res.SetTransactionTimeout(60))
	require.Equal(t, uint32(60), res.GetTransactionTimeout())

	require.NoError(t, res.SetTransactionTimeout(0))
	require.Equal(t, DefaultXATimeoutSeconds, res.GetTransactionTimeout())
}

func TestIsSameRMComparesLocation(t *testing.T) {
	res1, _ := newTestResource(t, func(req *txwire.Message) *txwire.Message { return nil })
	res2, _ := newTestResource(t, func(req *txwire.Message) *txwire.Message { return nil })
	require.True(t, res1.IsSameRM(res2))

	otherLoc, _ := url.Parse("remote://peer2")
	res3 := NewSubordinateXAResource(otherLoc, "parent", nil, nil)
	require.False(t, res1.IsSameRM(res3))
}

func TestMarshalUnmarshalXAResourceRoundTrip(t *testing.T) {
	res, _ := newTestResource(t, func(req *txwire.Message) *txwire.Message { return nil })

	data, err := res.MarshalBinary()
	require.NoError(t, err)

	restored, err := UnmarshalSubordinateXAResource(data, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSameRM(restored))
	require.Equal(t, uint32(0), restored.outflow.word.Load())
}
