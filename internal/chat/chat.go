// Package chat derives stable chat identities and unread display state.
package chat

import (
	"fmt"
	"strconv"
	"strings"

	"artmarket/internal/markerrors"
)

// ID returns the deterministic chat identifier for two accounts: the
// lexicographically sorted pair joined by an underscore, so both sides
// derive the same id.
func ID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", fmt.Errorf("%w: both participants are required", markerrors.ErrInvalidInput)
	}
	if a == b {
		return "", fmt.Errorf("%w: cannot chat with yourself", markerrors.ErrInvalidInput)
	}
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "_" + b, nil
}

// FormatUnread renders an unread counter for display, capped at "9+".
func FormatUnread(count int) string {
	if count <= 0 {
		return ""
	}
	if count > 9 {
		return "9+"
	}
	return strconv.Itoa(count)
}
