package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a prefixed random identifier, e.g. "evt_9f86d081884c".
func NewID(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
