package resolver

import (
	"testing"

	"github.com/knirv/knirvbase/internal/clock"
	"github.com/knirv/knirvbase/internal/types"
)

func TestMergeRemoteWinsWhenAfter(t *testing.T) {
	r := New()
	local := types.Document{ID: "d1", Vector: clock.Clock{"a": 1}, Payload: map[string]any{"k": 1}}
	remote := types.Document{ID: "d1", Vector: clock.Clock{"a": 2}, Payload: map[string]any{"k": 2}}

	got := r.Merge(local, remote)
	if got.Payload["k"] != 2 {
		t.Fatalf("got %v, want remote payload to win", got.Payload)
	}
}

func TestMergeLocalWinsWhenLocalAfter(t *testing.T) {
	r := New()
	local := types.Document{ID: "d1", Vector: clock.Clock{"a": 2}, Payload: map[string]any{"k": 1}}
	remote := types.Document{ID: "d1", Vector: clock.Clock{"a": 1}, Payload: map[string]any{"k": 2}}

	got := r.Merge(local, remote)
	if got.Payload["k"] != 1 {
		t.Fatalf("got %v, want local payload to win", got.Payload)
	}
}

func TestMergeConcurrentFieldLevel(t *testing.T) {
	r := New()
	local := types.Document{
		ID:        "d1",
		EntryType: types.EntryMemory,
		Vector:    clock.Clock{"a-1": 1},
		Timestamp: 10,
		Payload:   map[string]any{"k1": 42, "k2": 1},
	}
	remote := types.Document{
		ID:        "d1",
		EntryType: types.EntryAuth,
		Vector:    clock.Clock{"b-1": 2},
		Timestamp: 20,
		Payload:   map[string]any{"k2": 99},
	}

	got := r.Merge(local, remote)
	if got.Payload["k1"] != 42 {
		t.Fatalf("k1 = %v, want 42 (untouched by remote)", got.Payload["k1"])
	}
	if got.Payload["k2"] != 99 {
		t.Fatalf("k2 = %v, want 99 (remote overwrites local)", got.Payload["k2"])
	}
	if got.EntryType != types.EntryMemory {
		t.Fatalf("entryType = %v, want preserved from local", got.EntryType)
	}
	if got.Timestamp != 20 {
		t.Fatalf("timestamp = %d, want max(10,20)=20", got.Timestamp)
	}
	want := clock.Clock{"a-1": 1, "b-1": 2}
	for k, v := range want {
		if got.Vector[k] != v {
			t.Fatalf("vector[%s] = %d, want %d", k, got.Vector[k], v)
		}
	}
}

func TestMergeConcurrentTombstoneSurvives(t *testing.T) {
	r := New()
	local := types.Document{ID: "d1", Vector: clock.Clock{"a-1": 1}, Deleted: true}
	remote := types.Document{ID: "d1", Vector: clock.Clock{"b-1": 1}, Payload: map[string]any{"k": 1}}

	got := r.Merge(local, remote)
	if !got.Deleted {
		t.Fatal("expected tombstone to survive a concurrent merge")
	}
}

func TestResolveBatchKeepsMostRecentPerDocument(t *testing.T) {
	r := New()
	ops := []types.CRDTOperation{
		{DocumentID: "d1", Timestamp: 5, PeerID: "a"},
		{DocumentID: "d1", Timestamp: 10, PeerID: "a"},
		{DocumentID: "d2", Timestamp: 1, PeerID: "a"},
	}

	got := r.ResolveBatch(ops)
	if len(got) != 2 {
		t.Fatalf("got %d ops, want 2", len(got))
	}
	byDoc := map[string]int64{}
	for _, op := range got {
		byDoc[op.DocumentID] = op.Timestamp
	}
	if byDoc["d1"] != 10 {
		t.Fatalf("d1 timestamp = %d, want 10 (most recent)", byDoc["d1"])
	}
}

func TestResolveBatchTieBreaksByVectorThenPeer(t *testing.T) {
	r := New()
	ops := []types.CRDTOperation{
		{DocumentID: "d1", Timestamp: 10, PeerID: "a", Vector: clock.Clock{"a": 1}},
		{DocumentID: "d1", Timestamp: 10, PeerID: "b", Vector: clock.Clock{"a": 2}},
	}

	got := r.ResolveBatch(ops)
	if len(got) != 1 {
		t.Fatalf("got %d ops, want 1", len(got))
	}
	if got[0].PeerID != "b" {
		t.Fatalf("got peer %s, want b (higher vector wins tie)", got[0].PeerID)
	}
}
