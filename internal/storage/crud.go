package storage

import (
	"encoding/json"
	"log"
	"os"
	"strings"

	"github.com/knirv/knirvbase/internal/types"
)

// Insert writes doc to <collection>/<id>.json, externalizing a MEMORY
// document's payload blob and encrypting sensitive-collection fields
// along the way. The write is atomic: readers never see a partial file.
func (s *Store) Insert(collection string, doc types.Document) error {
	if doc.ID == "" {
		return types.NewValidationError("document must have an 'id' field", nil)
	}
	if err := os.MkdirAll(s.collectionDir(collection), 0o755); err != nil {
		return types.NewIOError("create collection dir", err)
	}

	final := doc.Clone()

	if final.EntryType == types.EntryMemory && final.Payload != nil {
		if blob, ok := final.Payload["blob"]; ok {
			path, err := s.saveBlob(collection, final.ID, blob)
			if err != nil {
				return err
			}
			delete(final.Payload, "blob")
			final.Payload["blobRef"] = path
		}
	}

	if s.IsSensitiveCollection(collection) {
		if err := s.encryptDocument(collection, &final); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return types.NewIOError("marshal document", err)
	}

	if err := atomicWrite(s.docPath(collection, final.ID), data); err != nil {
		return types.NewIOError("write document", err)
	}
	return nil
}

// Update loads the existing document, applies doc as its new full
// state, and re-inserts it. The caller (the Collection component) is
// responsible for computing the merged vector/payload before calling
// this — Update only enforces that something must already exist at id.
func (s *Store) Update(collection, id string, doc types.Document) error {
	if _, err := s.Find(collection, id); err != nil {
		return err
	}
	return s.Insert(collection, doc)
}

// Delete removes a document and its externalized blob, if any. Deleting
// an already-absent document is not an error.
func (s *Store) Delete(collection, id string) error {
	path := s.docPath(collection, id)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return types.NewIOError("remove document", err)
		}
	}
	return s.removeBlob(collection, id)
}

// Find loads a single document by id, reversing encryption and blob
// externalization transparently. A missing document returns a
// *types.Error of kind NotFound, not a bare nil/false pair.
func (s *Store) Find(collection, id string) (*types.Document, error) {
	path := s.docPath(collection, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewNotFoundError("document " + id + " not found in " + collection)
		}
		return nil, types.NewIOError("read document", err)
	}

	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewIOError("unmarshal document", err)
	}

	if doc.Encrypted {
		if err := s.decryptDocument(&doc); err != nil {
			return nil, err
		}
	}

	if doc.EntryType == types.EntryMemory && doc.Payload != nil {
		if ref, ok := doc.Payload["blobRef"].(string); ok {
			blob, err := s.loadBlob(ref)
			if err == nil {
				doc.Payload["blob"] = blob
				delete(doc.Payload, "blobRef")
			}
		}
	}

	return &doc, nil
}

// FindAll returns every non-corrupt document in collection. A document
// that fails to deserialize is skipped with a logged warning rather
// than failing the whole scan.
func (s *Store) FindAll(collection string) ([]types.Document, error) {
	dir := s.collectionDir(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewIOError("read collection dir", err)
	}

	docs := make([]types.Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		doc, err := s.Find(collection, id)
		if err != nil {
			log.Printf("storage: skipping corrupt document %s/%s: %v", collection, id, err)
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}
