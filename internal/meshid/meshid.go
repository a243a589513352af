// Package meshid formats and parses Meshtastic node ids in the "!xxxxxxxx"
// textual form used throughout the app's own persisted state and logs.
package meshid

import (
	"fmt"
	"strconv"
)

// Format renders id as "!" followed by 8 lowercase hex digits.
func Format(id uint32) string {
	return fmt.Sprintf("!%08x", id)
}

// Parse reverses Format, rejecting anything not in that exact shape.
func Parse(s string) (uint32, error) {
	if len(s) != 9 || s[0] != '!' {
		return 0, fmt.Errorf("meshid: malformed node id %q", s)
	}
	id, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("meshid: malformed node id %q: %w", s, err)
	}
	return uint32(id), nil
}
