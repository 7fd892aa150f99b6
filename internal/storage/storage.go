// Package storage implements the on-disk document store: one JSON file
// per document under <baseDir>/<collection>/<id>.json, blobs
// externalized under <collection>/blobs/<id>, and transparent
// field-level encryption for a fixed set of sensitive collections.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/knirv/knirvbase/internal/crypto"
	"github.com/knirv/knirvbase/internal/types"
)

// sensitiveCollections names the collections whose documents are
// encrypted at rest.
var sensitiveCollections = map[string]bool{
	"credentials":    true,
	"pqc_keys":       true,
	"sessions":       true,
	"audit_log":      true,
	"threat_events":  true,
	"access_control": true,
}

// sensitiveFields names, per sensitive collection, which payload fields
// get individually encrypted rather than the whole payload at once —
// the rest of the payload stays plaintext and queryable.
var sensitiveFields = map[string][]string{
	"credentials":    {"hash", "salt"},
	"pqc_keys":       {"kyber_private_key", "dilithium_private_key"},
	"sessions":       {"token_hash"},
	"audit_log":      {"details"},
	"threat_events":  {"indicators"},
	"access_control": {"permissions"},
}

// Store is a file-backed Storage implementation.
type Store struct {
	baseDir string
	enc     *crypto.Manager
}

// New creates the base directory if needed and returns a Store backed
// by it, using enc for sensitive-collection field encryption.
func New(baseDir string, enc *crypto.Manager) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, types.NewIOError("create base dir", err)
	}
	return &Store{baseDir: baseDir, enc: enc}, nil
}

func (s *Store) collectionDir(collection string) string {
	return filepath.Join(s.baseDir, collection)
}

func (s *Store) docPath(collection, id string) string {
	return filepath.Join(s.collectionDir(collection), id+".json")
}

func (s *Store) blobDir(collection string) string {
	return filepath.Join(s.collectionDir(collection), "blobs")
}

func (s *Store) blobPath(collection, id string) string {
	return filepath.Join(s.blobDir(collection), id)
}

// IsSensitiveCollection reports whether collection's documents are
// encrypted at rest.
func (s *Store) IsSensitiveCollection(collection string) bool {
	return sensitiveCollections[collection]
}

func isSensitiveField(collection, field string) bool {
	for _, f := range sensitiveFields[collection] {
		if f == field {
			return true
		}
	}
	return false
}

// atomicWrite writes data to a temp file alongside path and renames it
// into place, so a reader never observes a half-written document. This
// is the one write path every insert goes through.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) saveBlob(collection, id string, blob any) (string, error) {
	dir := s.blobDir(collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.NewIOError("create blob dir", err)
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return "", types.NewIOError("marshal blob", err)
	}
	path := s.blobPath(collection, id)
	if err := atomicWrite(path, data); err != nil {
		return "", types.NewIOError("write blob", err)
	}
	return path, nil
}

func (s *Store) loadBlob(blobRef string) (any, error) {
	data, err := os.ReadFile(blobRef)
	if err != nil {
		return nil, types.NewIOError("read blob", err)
	}
	var blob any
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, types.NewIOError("unmarshal blob", err)
	}
	return blob, nil
}

func (s *Store) removeBlob(collection, id string) error {
	path := s.blobPath(collection, id)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
