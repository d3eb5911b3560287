package txclient

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
	"github.com/stuartwdouglas/wildfly-transaction-client/txinvoke"
	"github.com/stuartwdouglas/wildfly-transaction-client/txwire"
)

// TestBeginCommitRecordsSpans exercises the otel instrumentation on the
// happy path, the way transactionsx's attempt spans would be asserted on in
// an integration test: a recording span processor observes exactly one span
// per operation, named after the operation, in call order.
func TestBeginCommitRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prevTracer := tracer
	tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).
		Tracer("txclient-test")
	defer func() { tracer = prevTracer }()

	tracker := txinvoke.NewTracker()
	ch := newFakeChannel(tracker, func(req *txwire.Message) *txwire.Message {
		switch req.OpCode {
		case txwire.OpUTBegin:
			return &txwire.Message{OpCode: txwire.OpRespUTBegin}
		case txwire.OpUTCommit:
			return &txwire.Message{OpCode: txwire.OpRespUTCommit}
		}
		return nil
	})
	handle := NewRemoteTransactionHandle(1, ch, tracker, nil)

	require.NoError(t, handle.Begin(context.Background(), 30))
	require.NoError(t, handle.Commit(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "txclient.RemoteTransactionHandle.Begin", spans[0].Name())
	require.Equal(t, "txclient.RemoteTransactionHandle.Commit", spans[1].Name())
}

// randomGlobalID builds a random SimpleXid global id from the 16 bytes of a
// UUID. That is shorter than the 28-byte UID prefix of node-name-bearing
// format ids, so such an id carries no node name.
func randomGlobalID(t *testing.T) []byte {
	t.Helper()
	id := uuid.New()
	return append([]byte(nil), id[:]...)
}

func TestRandomGlobalIDRoundTripsThroughSimpleXid(t *testing.T) {
	gid := randomGlobalID(t)
	x := txid.New(FormatIDPeer, gid, nil)
	require.True(t, x.Equal(txid.New(FormatIDPeer, gid, nil)))

	withBranch := txid.New(FormatIDPeer, gid, []byte("branch-1"))
	require.True(t, withBranch.WithoutBranch().Equal(x))
}
