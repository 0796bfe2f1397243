package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned when a backend variant carries a tag this client does not know.
var ErrUnknownVariant = errors.New("unknown variant tag")

// decodeVariant reads a single-key variant object such as {"closed":null}
// and returns its tag. Plain JSON strings are accepted as the tag itself.
func decodeVariant(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", fmt.Errorf("decode variant: %w", err)
		}
		return s, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("decode variant: %w", err)
	}
	if len(obj) != 1 {
		return "", fmt.Errorf("decode variant: expected exactly one tag, got %d", len(obj))
	}
	for tag := range obj {
		return tag, nil
	}
	return "", nil
}

// encodeVariant writes tag in the backend's {"tag":null} shape.
func encodeVariant(tag string) ([]byte, error) {
	return json.Marshal(map[string]any{tag: nil})
}
