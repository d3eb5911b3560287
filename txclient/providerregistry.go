package txclient

import (
	"context"
	"net/url"
	"sync"

	"github.com/google/go-querystring/query"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// uidLength is the length, in bytes, of the opaque unique-id prefix carried
// by every global transaction id produced by this family of format ids.
const uidLength = 28

// Node-name-bearing format ids, matching the reference implementation's
// XidFactory: the global transaction id is [28-byte UID][UTF-8 node name].
const (
	FormatIDPeer        int32 = 0x20000
	FormatIDRecovery    int32 = 0x20005
	FormatIDSubordinate int32 = 0x20008
)

// ParseXid builds a SimpleXid from its wire-level components.
func ParseXid(formatID int32, globalID, branchID []byte) txid.SimpleXid {
	return txid.New(formatID, globalID, branchID)
}

// NodeNameFromXid extracts the node name suffix carried by the global
// transaction id, for the format ids that carry one. Returns false for any
// other format id, or when the global id is too short to carry a name.
func NodeNameFromXid(xid txid.SimpleXid) (string, bool) {
	switch xid.FormatID {
	case FormatIDPeer, FormatIDRecovery, FormatIDSubordinate:
	default:
		return "", false
	}
	if len(xid.GlobalID) <= uidLength {
		return "", false
	}
	return string(xid.GlobalID[uidLength:]), true
}

// SubordinateTransactionControl is the per-entry control surface an
// imported-transaction registry entry exposes back to C8, so that the
// provider glue layer can drive XA completion without depending on the
// registry package's concrete entry type.
type SubordinateTransactionControl interface {
	BeforeCompletion(ctx context.Context) error
	Prepare(ctx context.Context) (int32, error)
	Commit(ctx context.Context, onePhase bool) error
	Rollback(ctx context.Context) error
	Forget(ctx context.Context) error
	CommitLocal(ctx context.Context) error
	RollbackLocal(ctx context.Context) error
}

// ImportResult packages the outcome of resolving an xid against the
// imported-transaction registry: the local TM's opaque transaction handle,
// the control surface for driving its completion, and whether this call is
// the one that actually performed the import.
type ImportResult[T any] struct {
	Transaction   T
	Control       SubordinateTransactionControl
	NewlyImported bool
}

// RemoteTransactionProvider is the abstract per-scheme collaborator that
// knows how to open a Channel and mint RemoteTransactionHandle/
// SubordinateXAResource instances for a given peer location. Provider
// discovery and the URI-routing mechanism itself are out of scope; only
// the lookup-table shape below is implemented.
type RemoteTransactionProvider interface {
	Scheme() string
}

// ProviderRegistry maps a URI scheme to the RemoteTransactionProvider
// responsible for it, mirroring the kvclientprovider-style registry-by-key
// pattern used throughout the teacher for per-node/per-service lookups.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]RemoteTransactionProvider
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]RemoteTransactionProvider)}
}

// Register binds scheme to provider, overwriting any previous binding.
func (r *ProviderRegistry) Register(scheme string, provider RemoteTransactionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[scheme] = provider
}

// Lookup resolves the provider for location's URI scheme.
func (r *ProviderRegistry) Lookup(location *url.URL) (RemoteTransactionProvider, error) {
	if location == nil {
		return nil, ErrNoProviderForURI
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[location.Scheme]
	if !ok {
		return nil, ErrNoProviderForURI
	}
	return provider, nil
}

// ByScheme resolves a provider directly by scheme name, distinct from
// Lookup in that an absent scheme here is a configuration error
// (ErrUnknownProvider) rather than a routing failure for a given URI.
func (r *ProviderRegistry) ByScheme(scheme string) (RemoteTransactionProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[scheme]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return provider, nil
}

// recoveryLocationParams is encoded onto a recovery location's query string
// so a single URL carries both the peer address and the parent transaction
// name needed to reconstruct a SubordinateXAResource during recovery.
type recoveryLocationParams struct {
	ParentName string `url:"parentName"`
}

// EncodeRecoveryLocation returns a copy of base with parentName encoded
// into its query string.
func EncodeRecoveryLocation(base *url.URL, parentName string) (*url.URL, error) {
	values, err := query.Values(recoveryLocationParams{ParentName: parentName})
	if err != nil {
		return nil, err
	}
	out := *base
	out.RawQuery = values.Encode()
	return &out, nil
}

// DecodeRecoveryLocationParentName extracts the parent transaction name
// previously encoded by EncodeRecoveryLocation, if present.
func DecodeRecoveryLocationParentName(location *url.URL) (string, bool) {
	if location == nil {
		return "", false
	}
	values := location.Query()
	name := values.Get("parentName")
	return name, name != ""
}
