package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StoredEntry is a record as persisted: the canonical payload and the hash
// sealed over it.
type StoredEntry struct {
	Seq     int64
	Payload []byte
	Hash    string
}

// Payload returns the canonical JSON encoding of r without its hash. Map keys
// are sorted by encoding/json, so the encoding is stable.
func (r *Record) Payload() ([]byte, error) {
	c := *r
	c.Hash = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit record: %w", err)
	}
	return data, nil
}

// Seal computes and sets the hash. It returns the payload that was hashed.
func (r *Record) Seal() ([]byte, error) {
	payload, err := r.Payload()
	if err != nil {
		return nil, err
	}
	r.Hash = HashPayload(payload)
	return payload, nil
}

// HashPayload returns the hex-encoded SHA-256 of payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Decode rebuilds the record from a stored entry.
func (e StoredEntry) Decode() (*Record, error) {
	var r Record
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return nil, fmt.Errorf("failed to decode audit record %d: %w", e.Seq, err)
	}
	r.Hash = e.Hash
	return &r, nil
}
