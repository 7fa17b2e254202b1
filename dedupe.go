package actionqueue

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const dedupeDomain = "actionqueue/dedupe/v1"

// DedupeKey fingerprints an action. Payloads that differ only in object key order or
// insignificant whitespace produce the same key.
//
// Format: hex(SHA256(domain 0x00 kind 0x00 canonical(payload))).
func DedupeKey(kind string, payload json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(dedupeDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(kind))
	h.Write([]byte{0x00})
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON re-encodes payload with sorted object keys. Numbers keep their literal text.
func canonicalJSON(payload json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("actionqueue: canonical payload: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
