package collection

import (
	"context"
	"time"

	"github.com/knirv/knirvbase/internal/clock"
	"github.com/knirv/knirvbase/internal/types"
)

// handleOperationMessage applies an inbound CRDTOperation for this
// collection. Messages for other collections are ignored.
func (c *Collection) handleOperationMessage(msg types.ProtocolMessage) {
	if msg.NetworkID != c.NetworkID() {
		return
	}

	var op types.CRDTOperation
	if err := types.DecodePayload(msg.Payload, &op); err != nil {
		logf("collection %s: malformed operation payload: %v", c.name, err)
		return
	}
	if op.Collection != c.name {
		return
	}

	if err := c.applyOperation(op); err != nil {
		logf("collection %s: apply operation %s failed: %v", c.name, op.ID, err)
		return
	}

	c.advanceLocalVector(op.Vector)
}

// applyOperation merges a remote operation into local storage using the
// vector-clock dominance rule: a delete only takes effect if the local
// version does not already causally dominate the incoming operation; an
// insert/update is merged field-by-field through the Resolver when the
// two sides are concurrent, or simply adopts whichever side is known to
// be newer. Application is serialized per document id so two operations
// against the same document can never race.
func (c *Collection) applyOperation(op types.CRDTOperation) error {
	lock := c.docLock(op.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	current, err := c.storage.Find(c.name, op.DocumentID)
	if types.IsKind(err, types.KindNotFound) {
		return c.applyToMissing(op)
	}
	if err != nil {
		return err
	}

	if op.Type == types.OpDelete {
		return c.applyDelete(*current, op)
	}

	remote := types.Document{
		ID:        op.DocumentID,
		Vector:    op.Vector,
		Timestamp: op.Timestamp,
		PeerID:    op.PeerID,
	}
	if op.Data != nil {
		remote = *op.Data
	}

	merged := c.resolve.Merge(*current, remote)
	return c.storage.Update(c.name, op.DocumentID, merged)
}

// applyToMissing handles an operation arriving for a document id this
// peer has never seen: inserts materialize it directly; a delete for an
// unknown document is recorded as a tombstone so a later concurrent
// insert can still be resolved correctly against it.
func (c *Collection) applyToMissing(op types.CRDTOperation) error {
	if op.Type == types.OpDelete {
		tomb := types.Document{
			ID:        op.DocumentID,
			EntryType: types.EntryMemory,
			Vector:    op.Vector.Copy(),
			Timestamp: op.Timestamp,
			PeerID:    op.PeerID,
			Deleted:   true,
		}
		return c.storage.Insert(c.name, tomb)
	}

	if op.Data == nil {
		return types.NewProtocolError("insert/update operation missing document data", nil)
	}
	return c.storage.Insert(c.name, *op.Data)
}

// applyDelete implements the dominance rule: if current already happens
// after (dominates) the incoming operation's vector, the local state is
// strictly newer and the tombstone must not apply.
func (c *Collection) applyDelete(current types.Document, op types.CRDTOperation) error {
	if current.Vector.Compare(op.Vector) == clock.After {
		return nil
	}

	tomb := current.Clone()
	tomb.Deleted = true
	tomb.Vector = current.Vector.Merge(op.Vector)
	if op.Timestamp > tomb.Timestamp {
		tomb.Timestamp = op.Timestamp
	}
	return c.storage.Update(c.name, op.DocumentID, tomb)
}

// handleSyncRequestMessage answers a MsgSyncRequest from a peer: every
// locally stored document whose vector the requester's local vector does
// not already dominate is packaged as a synthetic operation and sent back
// in a single MsgSyncResponse.
func (c *Collection) handleSyncRequestMessage(msg types.ProtocolMessage) {
	if msg.NetworkID != c.NetworkID() {
		return
	}

	var req types.SyncRequestPayload
	if err := types.DecodePayload(msg.Payload, &req); err != nil {
		logf("collection %s: malformed sync request payload: %v", c.name, err)
		return
	}
	if req.Collection != c.name {
		return
	}

	docs, err := c.storage.FindAll(c.name)
	if err != nil {
		logf("collection %s: sync request scan failed: %v", c.name, err)
		return
	}

	var ops []types.CRDTOperation
	for _, doc := range docs {
		if doc.Vector.HappensBefore(req.LocalVector) {
			continue
		}
		opType := types.OpInsert
		if doc.Deleted {
			opType = types.OpDelete
		}
		d := doc
		ops = append(ops, types.CRDTOperation{
			ID:         doc.ID,
			Type:       opType,
			Collection: c.name,
			DocumentID: doc.ID,
			Data:       &d,
			Vector:     doc.Vector.Copy(),
			Timestamp:  doc.Timestamp,
			PeerID:     doc.PeerID,
		})
	}

	resp := types.ProtocolMessage{
		Type:      types.MsgSyncResponse,
		NetworkID: c.NetworkID(),
		SenderID:  c.peerID(),
		Timestamp: time.Now().Unix(),
		Payload: types.SyncResponsePayload{
			Collection: c.name,
			Operations: ops,
		},
	}

	if err := c.network.SendToPeer(msg.SenderID, c.NetworkID(), resp); err != nil {
		logf("collection %s: sync response to %s failed: %v", c.name, msg.SenderID, err)
	}
}

// handleSyncResponseMessage feeds an inbound MsgSyncResponse to ForceSync
// through a buffered channel. Responses for a different collection are
// ignored. A response that arrives while no ForceSync is waiting is
// queued in the buffer and consumed by the next ForceSync; once the
// buffer is full, further responses are dropped rather than blocking,
// since a send with no reader would otherwise stall the connection's
// read loop.
func (c *Collection) handleSyncResponseMessage(msg types.ProtocolMessage) {
	if msg.NetworkID != c.NetworkID() {
		return
	}

	var resp types.SyncResponsePayload
	if err := types.DecodePayload(msg.Payload, &resp); err != nil {
		logf("collection %s: malformed sync response payload: %v", c.name, err)
		return
	}
	if resp.Collection != c.name {
		return
	}

	select {
	case c.syncResp <- resp:
	default:
		logf("collection %s: dropped sync response, no ForceSync waiting", c.name)
	}
}

// ForceSync requests the full set of operations the network believes
// this peer is missing for the collection, applies each one, and updates
// the collection's sync bookkeeping. It broadcasts a single sync_request
// and merges every sync_response that arrives before ctx is done.
func (c *Collection) ForceSync(ctx context.Context) (int, error) {
	netID := c.NetworkID()
	if netID == "" {
		return 0, types.NewValidationError("collection is not attached to a network", nil)
	}

	c.syncMu.Lock()
	c.syncState.SyncInProgress = true
	c.syncMu.Unlock()
	defer func() {
		c.syncMu.Lock()
		c.syncState.SyncInProgress = false
		c.syncState.LastSync = time.Now().UTC()
		c.syncMu.Unlock()
	}()

	req := types.ProtocolMessage{
		Type:      types.MsgSyncRequest,
		NetworkID: netID,
		SenderID:  c.peerID(),
		Timestamp: time.Now().Unix(),
		Payload: types.SyncRequestPayload{
			Collection:  c.name,
			LocalVector: c.localVector(),
		},
	}
	if err := c.network.BroadcastMessage(netID, req); err != nil {
		return 0, err
	}

	applied := 0
	for {
		select {
		case resp := <-c.syncResp:
			for _, op := range resp.Operations {
				if err := c.applyOperation(op); err != nil {
					logf("collection %s: force sync apply failed: %v", c.name, err)
					continue
				}
				c.advanceLocalVector(op.Vector)
				applied++
			}
		case <-ctx.Done():
			return applied, nil
		}
	}
}
