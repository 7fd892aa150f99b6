// Package resolver implements the CRDT conflict-resolution rules: merging
// two concurrent document versions, and reducing a batch of incoming
// operations down to the most recent one per document.
//
// The resolver holds no state of its own — every method is a pure
// function of its inputs, which keeps merge semantics testable in
// isolation from storage and networking.
package resolver

import (
	"sort"

	"github.com/knirv/knirvbase/internal/clock"
	"github.com/knirv/knirvbase/internal/types"
)

// Resolver applies the CRDT merge rules. It carries no fields; its
// methods are grouped under a type only so callers can depend on an
// interface if they want to swap resolution strategies in tests.
type Resolver struct{}

// New returns a ready-to-use Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Merge combines local and remote versions of the same document.
//
//   - If remote causally follows or equals local (local.Vector
//     Before or Equal to remote.Vector), remote wins outright.
//   - If local causally follows remote, local wins outright.
//   - If the edits are concurrent, fields present in remote overwrite
//     the same fields in a copy of local; the merged vector is the
//     join of both, the timestamp is the max of both, and entryType is
//     taken from local. If either side is a tombstone and its vector
//     is not dominated by the other, the result is a tombstone.
func (r *Resolver) Merge(local, remote types.Document) types.Document {
	switch local.Vector.Compare(remote.Vector) {
	case clock.Equal, clock.Before:
		return remote.Clone()
	case clock.After:
		return local.Clone()
	default:
		return mergeConcurrent(local, remote)
	}
}

func mergeConcurrent(local, remote types.Document) types.Document {
	merged := local.Clone()

	if remote.Payload != nil {
		if merged.Payload == nil {
			merged.Payload = make(map[string]any, len(remote.Payload))
		}
		for k, v := range remote.Payload {
			merged.Payload[k] = v
		}
	}

	merged.Vector = local.Vector.Merge(remote.Vector)
	if remote.Timestamp > merged.Timestamp {
		merged.Timestamp = remote.Timestamp
	}

	// mergeConcurrent only runs when neither vector dominates the
	// other (that's what makes them concurrent), so a tombstone on
	// either side survives the merge unconditionally here.
	merged.Deleted = local.Deleted || remote.Deleted
	return merged
}

// ResolveBatch reduces a batch of incoming operations to the most
// recent one per document id: sort descending by timestamp, then keep
// only the first occurrence of each documentId. Ties (equal
// timestamps) are broken by comparing the two operations' vector
// clocks lexicographically by peer id then counter, and finally by
// peer id itself, so the reduction is fully deterministic.
//
// Callers must still run each surviving operation's document through
// Merge against current local state — ResolveBatch only picks which
// operations to apply, it does not apply them.
func (r *Resolver) ResolveBatch(ops []types.CRDTOperation) []types.CRDTOperation {
	sorted := make([]types.CRDTOperation, len(ops))
	copy(sorted, ops)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp > sorted[j].Timestamp
		}
		if c := compareVectorsLex(sorted[i].Vector, sorted[j].Vector); c != 0 {
			return c > 0
		}
		return sorted[i].PeerID > sorted[j].PeerID
	})

	seen := make(map[string]bool, len(sorted))
	result := make([]types.CRDTOperation, 0, len(sorted))
	for _, op := range sorted {
		if seen[op.DocumentID] {
			continue
		}
		seen[op.DocumentID] = true
		result = append(result, op)
	}
	return result
}

// compareVectorsLex imposes a total order on two vector clocks for
// tie-breaking: compare counters in sorted-peer-id order, the first
// differing counter decides. Returns -1, 0, or 1.
func compareVectorsLex(a, b clock.Clock) int {
	keys := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	for _, k := range sortedKeys {
		if a[k] != b[k] {
			if a[k] < b[k] {
				return -1
			}
			return 1
		}
	}
	return 0
}
