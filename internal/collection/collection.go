// Package collection bridges Storage, the Resolver, and the Network
// Manager for a single named collection of documents: local writes get
// CRDT metadata and are broadcast when the collection is attached to a
// network; inbound operations and sync responses are merged back in
// through the Resolver.
package collection

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/knirv/knirvbase/internal/clock"
	"github.com/knirv/knirvbase/internal/network"
	"github.com/knirv/knirvbase/internal/resolver"
	"github.com/knirv/knirvbase/internal/storage"
	"github.com/knirv/knirvbase/internal/types"
)

func logf(format string, args ...any) {
	log.Printf(format, args...)
}

// docStripes is the number of striped per-document locks used to
// serialize inbound operation application. Two operations for
// different documents can apply concurrently; two for the same
// document cannot.
const docStripes = 32

// Collection is a single named collection of documents.
type Collection struct {
	name    string
	storage *storage.Store
	network *network.Manager
	resolve *resolver.Resolver

	mu        sync.RWMutex
	networkID string

	syncMu    sync.Mutex
	syncState types.SyncState

	stripes [docStripes]sync.Mutex

	syncResp chan types.SyncResponsePayload
}

// New returns a Collection named name backed by store and net. It
// registers the handlers that let the collection receive inbound
// operations and answer/consume sync requests and responses regardless
// of which network it later attaches to.
func New(name string, store *storage.Store, net *network.Manager) *Collection {
	c := &Collection{
		name:    name,
		storage: store,
		network: net,
		resolve: resolver.New(),
		syncState: types.SyncState{
			Collection:  name,
			LocalVector: clock.New(),
			LastSync:    time.Now().UTC(),
		},
		syncResp: make(chan types.SyncResponsePayload, 16),
	}

	net.OnMessage(types.MsgOperation, c.handleOperationMessage)
	net.OnMessage(types.MsgSyncRequest, c.handleSyncRequestMessage)
	net.OnMessage(types.MsgSyncResponse, c.handleSyncResponseMessage)

	return c
}

func (c *Collection) peerID() string {
	return c.network.PeerID()
}

func (c *Collection) NetworkID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.networkID
}

// docLock returns the striped mutex guarding id, so application of
// operations against the same document id is always serialized.
func (c *Collection) docLock(id string) *sync.Mutex {
	h := fnv32(id)
	return &c.stripes[h%docStripes]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func (c *Collection) advanceLocalVector(v clock.Clock) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	c.syncState.LocalVector = c.syncState.LocalVector.Merge(v)
}

func (c *Collection) localVector() clock.Clock {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.syncState.LocalVector.Copy()
}

// Insert builds a Document from the caller-supplied fields: id and
// entryType are read out of doc (defaulting entryType to MEMORY), the
// full map is copied as payload, a fresh vector is incremented at the
// local peer, and the current timestamp and local peer id are stamped
// on. The document is persisted, then — if the collection is attached
// to a network — broadcast as an Insert operation.
func (c *Collection) Insert(doc map[string]any) (types.Document, error) {
	id, _ := doc["id"].(string)
	entryTypeStr, _ := doc["entryType"].(string)

	vector := clock.New()
	vector.Increment(c.peerID())

	distDoc := types.Document{
		ID:        id,
		EntryType: types.ParseEntryType(entryTypeStr),
		Payload:   copyMap(doc),
		Vector:    vector,
		Timestamp: time.Now().Unix(),
		PeerID:    c.peerID(),
	}

	if err := c.storage.Insert(c.name, distDoc); err != nil {
		return types.Document{}, err
	}

	c.advanceLocalVector(distDoc.Vector)
	c.broadcastOperation(types.OpInsert, distDoc.ID, &distDoc, distDoc.Vector)

	return distDoc, nil
}

// Update shallow-merges patch onto the stored document's payload,
// bumps the local vector, and persists. Returns 1 if a document existed
// to update, 0 otherwise (no error on a missing id — callers check the
// count). When attached to a network this also broadcasts an Update
// operation, closing the gap left open upstream.
func (c *Collection) Update(id string, patch map[string]any) (int, error) {
	lock := c.docLock(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := c.storage.Find(c.name, id)
	if types.IsKind(err, types.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	merged := existing.Clone()
	if merged.Payload == nil {
		merged.Payload = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		merged.Payload[k] = v
	}
	merged.Vector.Increment(c.peerID())
	merged.Timestamp = time.Now().Unix()
	merged.PeerID = c.peerID()

	if err := c.storage.Update(c.name, id, merged); err != nil {
		return 0, err
	}

	c.advanceLocalVector(merged.Vector)
	c.broadcastOperation(types.OpUpdate, id, &merged, merged.Vector)

	return 1, nil
}

// Delete tombstones a document in place: it is not removed from
// storage, only marked deleted under an incremented vector, so the
// deletion itself can be replicated. Returns 1 if a document existed,
// 0 otherwise. Broadcasts a Delete operation when attached to a network.
func (c *Collection) Delete(id string) (int, error) {
	lock := c.docLock(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := c.storage.Find(c.name, id)
	if types.IsKind(err, types.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	tomb := existing.Clone()
	tomb.Deleted = true
	tomb.Vector.Increment(c.peerID())
	tomb.Timestamp = time.Now().Unix()
	tomb.PeerID = c.peerID()

	if err := c.storage.Update(c.name, id, tomb); err != nil {
		return 0, err
	}

	c.advanceLocalVector(tomb.Vector)
	c.broadcastOperation(types.OpDelete, id, nil, tomb.Vector)

	return 1, nil
}

// Find reads a single document through to Storage. A tombstoned
// document is reported as not found: the tombstone stays on disk so
// the dominance check in applyDelete still has something to compare
// against, but a reader must never observe a deleted document.
func (c *Collection) Find(id string) (*types.Document, error) {
	doc, err := c.storage.Find(c.name, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, types.NewNotFoundError("document " + id + " not found in " + c.name)
	}
	return doc, nil
}

// FindAll reads every document in the collection through to Storage,
// omitting tombstoned documents for the same reason Find hides them.
func (c *Collection) FindAll() ([]types.Document, error) {
	docs, err := c.storage.FindAll(c.name)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, doc := range docs {
		if !doc.Deleted {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *Collection) broadcastOperation(opType types.OperationType, documentID string, data *types.Document, vector clock.Clock) {
	netID := c.NetworkID()
	if netID == "" {
		return
	}

	op := types.CRDTOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		Collection: c.name,
		DocumentID: documentID,
		Data:       data,
		Vector:     vector.Copy(),
		Timestamp:  time.Now().Unix(),
		PeerID:     c.peerID(),
	}
	msg := types.ProtocolMessage{
		Type:      types.MsgOperation,
		NetworkID: netID,
		SenderID:  c.peerID(),
		Timestamp: time.Now().Unix(),
		Payload:   op,
	}

	if err := c.network.BroadcastMessage(netID, msg); err != nil {
		// A disconnected peer is not fatal to the caller: the local
		// write already succeeded and will replicate on the next
		// successful broadcast or sync.
		logf("collection %s: broadcast %s failed: %v", c.name, opType, err)
	}
}

// AttachToNetwork joins the collection to networkID: it is registered
// with the Network Manager so CollectionAnnounce fires, and the sync
// state records which network it now belongs to.
func (c *Collection) AttachToNetwork(networkID string) error {
	c.mu.Lock()
	c.networkID = networkID
	c.mu.Unlock()

	if err := c.network.AddCollectionToNetwork(networkID, c.name); err != nil {
		return err
	}

	c.syncMu.Lock()
	c.syncState.NetworkID = networkID
	c.syncMu.Unlock()

	return nil
}

// DetachFromNetwork reverses AttachToNetwork.
func (c *Collection) DetachFromNetwork() error {
	netID := c.NetworkID()
	if netID != "" {
		if err := c.network.RemoveCollectionFromNetwork(netID, c.name); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.networkID = ""
	c.mu.Unlock()

	c.syncMu.Lock()
	c.syncState.NetworkID = ""
	c.syncMu.Unlock()

	return nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
