// Package txid implements the global-transaction-id value type shared by the
// remote transaction handle, the subordinate XA resource, and the imported
// transaction registry, the way memdx's opcode/status types are shared
// across every memdx consumer without pulling in any of their machinery.
package txid

import "bytes"

// SimpleXid is an immutable XA transaction id: a format id plus a global
// transaction id and an optional branch qualifier. Equality and ordering are
// byte-lexicographic across (FormatID, GlobalID, BranchID).
type SimpleXid struct {
	FormatID int32
	GlobalID []byte
	BranchID []byte
}

// New builds a SimpleXid, copying the id slices so the result is safe to
// retain independent of the caller's buffers.
func New(formatID int32, globalID, branchID []byte) SimpleXid {
	return SimpleXid{
		FormatID: formatID,
		GlobalID: append([]byte(nil), globalID...),
		BranchID: append([]byte(nil), branchID...),
	}
}

// WithoutBranch returns the same xid with an empty branch qualifier, used as
// the gtid key in the imported transaction registry.
func (x SimpleXid) WithoutBranch() SimpleXid {
	return SimpleXid{FormatID: x.FormatID, GlobalID: x.GlobalID}
}

// Equal reports whether two xids are identical across all three fields.
func (x SimpleXid) Equal(o SimpleXid) bool {
	return x.Compare(o) == 0
}

// Compare orders xids byte-lexicographically across (FormatID, GlobalID,
// BranchID), matching the tuple ordering XidKey relies on for its
// expiration-then-gtid sort.
func (x SimpleXid) Compare(o SimpleXid) int {
	if x.FormatID != o.FormatID {
		if x.FormatID < o.FormatID {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(x.GlobalID, o.GlobalID); c != 0 {
		return c
	}
	return bytes.Compare(x.BranchID, o.BranchID)
}

// IsZero reports whether x is the zero value (no format id, no global id).
func (x SimpleXid) IsZero() bool {
	return x.FormatID == 0 && len(x.GlobalID) == 0 && len(x.BranchID) == 0
}
