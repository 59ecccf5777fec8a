package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a lowercase 0x-prefixed 20-byte account address.
// The zero value is the anonymous address.
type Address string

const addressHexLen = 40

// ParseAddress normalizes s. An empty string yields the anonymous address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	body, ok := strings.CutPrefix(strings.ToLower(s), "0x")
	if !ok || len(body) != addressHexLen {
		return "", fmt.Errorf("address %q: %w", s, ErrInvalidParameters)
	}

	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("address %q: %w", s, ErrInvalidParameters)
	}

	return Address("0x" + body), nil
}

func (a Address) IsAnonymous() bool {
	return a == ""
}

func (a Address) String() string {
	return string(a)
}
