package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// displayIndent is the indentation used for pretty-printed payloads.
const displayIndent = "  "

// DecodePayload pretty-prints a JSON payload.
//
// Returns:
//   - string: the indented JSON
//   - error: wraps ErrDecode if payload is not valid JSON
func DecodePayload(payload string) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(payload), "", displayIndent); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return buf.String(), nil
}

// FormatPayload returns payload pretty-printed when it is JSON and unchanged
// otherwise. It never fails.
func FormatPayload(payload string) string {
	formatted, err := DecodePayload(payload)
	if err != nil {
		return payload
	}
	return formatted
}
