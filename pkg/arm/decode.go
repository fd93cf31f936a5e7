package arm

import (
	"bytes"
	"encoding/json"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// unmarshalLenient decodes ARM payloads defensively. Some endpoints (and
// some proxies in front of them) return the body as a JSON-encoded string
// rather than a bare object; both shapes decode here. Duplicate keys that
// vary only in case decode without error, keeping the last occurrence.
func unmarshalLenient(data []byte, v any) error {
	data = bytes.TrimPrefix(bytes.TrimSpace(data), utf8BOM)
	if len(data) == 0 {
		return nil
	}

	// String-encoded JSON: unquote, then decode the inner document.
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err == nil {
			trimmed := bytes.TrimSpace([]byte(inner))
			if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
				return json.Unmarshal(trimmed, v)
			}
		}
	}

	return json.Unmarshal(data, v)
}
