// Package canonical builds order-independent keys for content-addressed
// records (solution cache entries, error records, pattern identities).
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Marshal serializes v as JSON with object keys sorted at every nesting
// level. Structs and typed maps are first normalized through a generic
// round-trip so two values holding the same key/value sets always produce
// identical bytes.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshalling value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: normalizing value: %w", err)
	}

	// encoding/json writes map[string]any keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical: encoding value: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Key returns the hex SHA-256 of the canonical serialization of v.
func Key(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustKey is Key for values that are known to be serializable (maps of
// strings, numbers and slices built by this module).
func MustKey(v any) string {
	k, err := Key(v)
	if err != nil {
		panic(err)
	}
	return k
}

// NormalizeText lower-cases s and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
