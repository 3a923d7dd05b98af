// Package attrs reads values back out of slog-style key/value attribute
// lists, so one list can feed both the logger and the audit event.
package attrs

import "fmt"

// ExtractString returns the value paired with key, or "" when the key is
// absent. Strings are returned as-is and fmt.Stringer values (key ids,
// addresses, user ids) are rendered with String.
func ExtractString(attrs []any, key string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		}
		return ""
	}
	return ""
}
