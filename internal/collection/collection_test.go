package collection

import (
	"context"
	"testing"
	"time"

	"github.com/knirv/knirvbase/internal/clock"
	"github.com/knirv/knirvbase/internal/crypto"
	"github.com/knirv/knirvbase/internal/network"
	"github.com/knirv/knirvbase/internal/storage"
	"github.com/knirv/knirvbase/internal/types"
)

func newTestCollection(t *testing.T, peerID, name string) *Collection {
	t.Helper()
	store, err := storage.New(t.TempDir(), crypto.NewManager())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	net := network.New(peerID)
	t.Cleanup(func() { net.Shutdown() })
	return New(name, store, net)
}

func waitForCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestInsertFindRoundTrip(t *testing.T) {
	c := newTestCollection(t, "peer-a", "notes")

	doc, err := c.Insert(map[string]any{"id": "n1", "entryType": "MEMORY", "text": "hello"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if doc.Vector["peer-a"] != 1 {
		t.Fatalf("vector = %v, want peer-a:1", doc.Vector)
	}

	got, err := c.Find("n1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Payload["text"] != "hello" {
		t.Fatalf("payload = %v", got.Payload)
	}
}

func TestUpdateMergesPayloadAndBumpsVector(t *testing.T) {
	c := newTestCollection(t, "peer-a", "notes")
	if _, err := c.Insert(map[string]any{"id": "n1", "text": "hello"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := c.Update("n1", map[string]any{"text": "goodbye"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 1 {
		t.Fatalf("Update matched %d docs, want 1", n)
	}

	got, err := c.Find("n1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Payload["text"] != "goodbye" {
		t.Fatalf("payload = %v, want updated text", got.Payload)
	}
	if got.Vector["peer-a"] != 2 {
		t.Fatalf("vector = %v, want peer-a:2", got.Vector)
	}
}

func TestUpdateMissingDocumentReturnsZero(t *testing.T) {
	c := newTestCollection(t, "peer-a", "notes")
	n, err := c.Update("ghost", map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestDeleteTombstonesDocument(t *testing.T) {
	c := newTestCollection(t, "peer-a", "notes")
	if _, err := c.Insert(map[string]any{"id": "n1", "text": "hello"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := c.Delete("n1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("Delete matched %d docs, want 1", n)
	}

	if _, err := c.Find("n1"); !types.IsKind(err, types.KindNotFound) {
		t.Fatalf("Find after delete: got %v, want NotFound", err)
	}

	stored, err := c.storage.Find(c.name, "n1")
	if err != nil {
		t.Fatalf("storage.Find after delete: %v", err)
	}
	if !stored.Deleted {
		t.Fatal("expected the tombstone to remain on disk, not be removed")
	}
}

// TestUpdateAndDeleteBroadcastWhenAttached confirms Update and Delete
// broadcast operations once the collection is attached to a network —
// the source implementation this is adapted from left both silent.
func TestUpdateAndDeleteBroadcastWhenAttached(t *testing.T) {
	aStore, err := storage.New(t.TempDir(), crypto.NewManager())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	bStore, err := storage.New(t.TempDir(), crypto.NewManager())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	netA := network.New("peer-a")
	netB := network.New("peer-b")
	t.Cleanup(func() { netA.Shutdown(); netB.Shutdown() })

	if err := netA.Initialize(""); err != nil {
		t.Fatalf("netA.Initialize: %v", err)
	}
	if _, err := netB.CreateNetwork(types.NetworkConfig{NetworkID: "net1", Name: "Net 1"}); err != nil {
		t.Fatalf("netB.CreateNetwork: %v", err)
	}
	if err := netB.JoinNetwork("net1", []string{netA.ListenAddr()}); err != nil {
		t.Fatalf("netB.JoinNetwork: %v", err)
	}

	colA := New("notes", aStore, netA)
	colB := New("notes", bStore, netB)
	if err := colA.AttachToNetwork("net1"); err != nil {
		t.Fatalf("colA.AttachToNetwork: %v", err)
	}
	if err := colB.AttachToNetwork("net1"); err != nil {
		t.Fatalf("colB.AttachToNetwork: %v", err)
	}

	if _, err := colB.Insert(map[string]any{"id": "n1", "text": "hello"}); err != nil {
		t.Fatalf("colB.Insert: %v", err)
	}

	waitForCond(t, 2*time.Second, func() bool {
		_, err := colA.Find("n1")
		return err == nil
	})

	if _, err := colB.Update("n1", map[string]any{"text": "updated"}); err != nil {
		t.Fatalf("colB.Update: %v", err)
	}
	waitForCond(t, 2*time.Second, func() bool {
		doc, err := colA.Find("n1")
		return err == nil && doc.Payload["text"] == "updated"
	})

	if _, err := colB.Delete("n1"); err != nil {
		t.Fatalf("colB.Delete: %v", err)
	}
	waitForCond(t, 2*time.Second, func() bool {
		_, err := colA.Find("n1")
		return types.IsKind(err, types.KindNotFound)
	})
}

func TestForceSyncPullsMissingOperations(t *testing.T) {
	aStore, err := storage.New(t.TempDir(), crypto.NewManager())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	bStore, err := storage.New(t.TempDir(), crypto.NewManager())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	netA := network.New("peer-a")
	netB := network.New("peer-b")
	t.Cleanup(func() { netA.Shutdown(); netB.Shutdown() })

	if err := netA.Initialize(""); err != nil {
		t.Fatalf("netA.Initialize: %v", err)
	}
	if _, err := netB.CreateNetwork(types.NetworkConfig{NetworkID: "net1", Name: "Net 1"}); err != nil {
		t.Fatalf("netB.CreateNetwork: %v", err)
	}

	colA := New("notes", aStore, netA)
	colB := New("notes", bStore, netB)
	if err := colA.AttachToNetwork("net1"); err != nil {
		t.Fatalf("colA.AttachToNetwork: %v", err)
	}

	// colB already has a document that colA has never seen, inserted
	// before the two peers are ever connected.
	if _, err := colB.Insert(map[string]any{"id": "n1", "text": "from-b"}); err != nil {
		t.Fatalf("colB.Insert: %v", err)
	}
	if err := colB.AttachToNetwork("net1"); err != nil {
		t.Fatalf("colB.AttachToNetwork: %v", err)
	}

	if err := netB.JoinNetwork("net1", []string{netA.ListenAddr()}); err != nil {
		t.Fatalf("netB.JoinNetwork: %v", err)
	}
	// Give the handshake goroutine time to finish before forcing a sync;
	// there is no collection-level signal for "connected" to poll on.
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := colA.ForceSync(ctx); err != nil {
		t.Fatalf("ForceSync: %v", err)
	}

	got, err := colA.Find("n1")
	if err != nil {
		t.Fatalf("Find after ForceSync: %v", err)
	}
	if got.Payload["text"] != "from-b" {
		t.Fatalf("payload = %v, want from-b", got.Payload)
	}
}

func TestApplyDeleteRespectsLocalDominance(t *testing.T) {
	c := newTestCollection(t, "peer-a", "notes")
	doc, err := c.Insert(map[string]any{"id": "n1", "text": "hello"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A delete carrying a vector strictly older than the local copy's
	// (the zero clock, which {peer-a:1} already dominates) must not
	// take effect.
	_ = doc
	op := types.CRDTOperation{
		ID:         "op1",
		Type:       types.OpDelete,
		Collection: "notes",
		DocumentID: "n1",
		Vector:     clock.New(),
		Timestamp:  time.Now().Unix(),
		PeerID:     "peer-b",
	}
	if err := c.applyOperation(op); err != nil {
		t.Fatalf("applyOperation: %v", err)
	}

	got, err := c.Find("n1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Deleted {
		t.Fatal("tombstone should not apply when local vector dominates")
	}
}
