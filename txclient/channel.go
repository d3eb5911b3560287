package txclient

import (
	"net/url"

	"github.com/stuartwdouglas/wildfly-transaction-client/txinvoke"
)

// Channel is the transport collaborator consumed by RemoteTransactionHandle
// and SubordinateXAResource: something that can send a framed message to a
// peer, report the peer's identity and location, and notify on close.
// Framing, multiplexing and connection pooling are explicitly out of scope
// here (see spec's External Interfaces section) — this is just the sliver
// of the real Channel type that C3/C4 actually call.
type Channel interface {
	txinvoke.Channel

	// PeerIdentityID returns the id the peer uses to identify this side's
	// security context, or 0 if none is established.
	PeerIdentityID() uint32

	// Location returns the URI identifying the peer this channel talks to.
	Location() *url.URL

	// OnClose registers a callback invoked exactly once when the channel is
	// lost. Handles use this to drive disconnect().
	OnClose(callback func())
}
