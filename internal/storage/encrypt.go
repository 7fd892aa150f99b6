package storage

import (
	"encoding/json"
	"strings"

	"github.com/knirv/knirvbase/internal/types"
)

// encryptDocument replaces each sensitive field in doc.Payload with an
// encrypted blob under the current master key, and marks the document
// as encrypted so Find knows to reverse it.
func (s *Store) encryptDocument(collection string, doc *types.Document) error {
	master := s.enc.MasterKey()
	if master == nil {
		return types.NewCryptoError("no master key set for encryption", nil)
	}
	if doc.Payload == nil {
		return nil
	}

	encrypted, err := s.encryptPayload(collection, doc.Payload, master.ID)
	if err != nil {
		return err
	}
	doc.Payload = encrypted
	doc.Encrypted = true
	doc.EncryptionKeyID = master.ID
	return nil
}

func (s *Store) encryptPayload(collection string, payload map[string]any, keyID string) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if !isSensitiveField(collection, key) {
			out[key] = value
			continue
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return nil, types.NewIOError("marshal sensitive field "+key, err)
		}
		blob, err := s.enc.EncryptData(raw, keyID)
		if err != nil {
			return nil, err
		}
		out[key] = blob
		out[key+"_encrypted"] = true
	}
	return out, nil
}

// decryptDocument reverses encryptDocument.
func (s *Store) decryptDocument(doc *types.Document) error {
	if doc.Payload != nil {
		decrypted, err := s.decryptPayload(doc.Payload)
		if err != nil {
			return err
		}
		doc.Payload = decrypted
	}
	doc.Encrypted = false
	doc.EncryptionKeyID = ""
	return nil
}

func (s *Store) decryptPayload(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if strings.HasSuffix(key, "_encrypted") {
			continue
		}

		if sentinel, ok := payload[key+"_encrypted"]; ok && sentinel == true {
			blobStr, ok := value.(string)
			if !ok {
				out[key] = value
				continue
			}
			raw, err := s.enc.DecryptData(blobStr)
			if err != nil {
				return nil, err
			}
			var decoded any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, types.NewIOError("unmarshal decrypted field "+key, err)
			}
			out[key] = decoded
			continue
		}

		out[key] = value
	}
	return out, nil
}
