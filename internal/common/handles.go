package common

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// EncodeHandle returns a canonical base64 string addressing one field of
// one document, of the form:
//
//	"shops/s1/items|doc-17|price"
//
// Each part is query-escaped so keys may contain '|'.
func EncodeHandle(collection, key, field string) string {
	raw := strings.Join([]string{
		url.QueryEscape(collection),
		url.QueryEscape(key),
		url.QueryEscape(field),
	}, "|")
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeHandle parses a handle produced by EncodeHandle.
func DecodeHandle(h string) (collection, key, field string, err error) {
	b, err := base64.RawURLEncoding.DecodeString(h)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid base64: %w", err)
	}

	parts := strings.Split(string(b), "|")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed handle")
	}
	out := make([]string, 3)
	for i, p := range parts {
		if out[i], err = url.QueryUnescape(p); err != nil {
			return "", "", "", fmt.Errorf("malformed handle: %w", err)
		}
	}
	if out[0] == "" || out[1] == "" || out[2] == "" {
		return "", "", "", fmt.Errorf("malformed handle: empty part")
	}
	return out[0], out[1], out[2], nil
}
