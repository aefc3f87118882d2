package natskv

import (
	"encoding/base64"
	"fmt"
)

// NATS KV keys are limited to [-/_=.a-zA-Z0-9]; cache keys embed URLs and
// state keys embed workspace paths, so every key is stored base64url encoded.
var keyEncoding = base64.RawURLEncoding

func encodeKey(key string) string {
	return keyEncoding.EncodeToString([]byte(key))
}

func decodeKey(stored string) (string, error) {
	b, err := keyEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode kv key %q: %w", stored, err)
	}
	return string(b), nil
}
