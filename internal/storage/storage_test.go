package storage

import (
	"testing"

	"github.com/knirv/knirvbase/internal/clock"
	"github.com/knirv/knirvbase/internal/crypto"
	"github.com/knirv/knirvbase/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), crypto.NewManager())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestInsertFindRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := types.Document{
		ID:        "doc1",
		EntryType: types.EntryMemory,
		Payload:   map[string]any{"source": "web-scrape"},
		Vector:    clock.Clock{"peer-a": 1},
		Timestamp: 100,
		PeerID:    "peer-a",
	}

	if err := s.Insert("memory", doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Find("memory", "doc1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Payload["source"] != "web-scrape" {
		t.Fatalf("payload = %v", got.Payload)
	}
}

func TestInsertRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Insert("memory", types.Document{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestFindMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Find("memory", "nope")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !types.IsKind(err, types.KindNotFound) {
		t.Fatalf("got %v, want NotFound kind", err)
	}
}

func TestBlobExternalizationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := types.Document{
		ID:        "mem1",
		EntryType: types.EntryMemory,
		Payload:   map[string]any{"blob": map[string]any{"vector": []any{0.1, 0.2}}},
		Vector:    clock.Clock{"peer-a": 1},
	}

	if err := s.Insert("memory", doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Find("memory", "mem1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if _, ok := got.Payload["blobRef"]; ok {
		t.Fatal("blobRef leaked into returned document")
	}
	if got.Payload["blob"] == nil {
		t.Fatal("expected blob to be reattached on read")
	}
}

func TestSensitiveFieldEncryptionRoundTrip(t *testing.T) {
	mgr := crypto.NewManager()
	kp, err := mgr.GenerateDataEncryptionKey("master")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mgr.SetMasterKey(kp)

	s, err := New(t.TempDir(), mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := types.Document{
		ID:      "cred1",
		Payload: map[string]any{"hash": "supersecret", "username": "alice"},
		Vector:  clock.Clock{"peer-a": 1},
	}

	if err := s.Insert("credentials", doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Find("credentials", "cred1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Payload["hash"] != "supersecret" {
		t.Fatalf("hash = %v, want decrypted round trip", got.Payload["hash"])
	}
	if got.Payload["username"] != "alice" {
		t.Fatalf("username = %v, want untouched plaintext", got.Payload["username"])
	}
	if got.Encrypted {
		t.Fatal("Find should clear the Encrypted flag after decrypting")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete("memory", "never-existed"); err != nil {
		t.Fatalf("Delete on absent doc should not error: %v", err)
	}
}

func TestFindAllSkipsNothingWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	docs, err := s.FindAll("empty-collection")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("got %d docs, want 0", len(docs))
	}
}
