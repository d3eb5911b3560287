package txinvoke

import (
	"context"

	"github.com/stuartwdouglas/wildfly-transaction-client/txwire"
)

type callResult struct {
	msg *txwire.Message
	err error
}

// Call allocates a request id, hands it to build so the caller can stamp
// an outbound message, sends it via channel, and blocks until either a
// response is delivered or ctx is done. This is the blocking-invocation
// pattern the reference implementation gets from
// org.jboss.remoting3.util.BlockingInvocation, collapsed into a single
// call since Go has no equivalent of Java's try-with-resources response
// handle.
//
// On ctx cancellation, the invocation is invalidated so a response that
// arrives afterward is silently discarded, and ctx.Err() is returned.
func Call(ctx context.Context, tracker *Tracker, channel Channel, build func(requestID uint16) *txwire.Message) (*txwire.Message, error) {
	waitCh := make(chan callResult, 1)

	id := tracker.Register(func(msg *txwire.Message, err error) {
		waitCh <- callResult{msg: msg, err: err}
	})

	msg := build(id)
	if err := channel.Send(ctx, msg); err != nil {
		tracker.Invalidate(id)
		return nil, err
	}

	select {
	case res := <-waitCh:
		return res.msg, res.err
	case <-ctx.Done():
		tracker.Invalidate(id)
		return nil, ctx.Err()
	}
}
