package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewConnID returns a process-unique connection identifier assigned at
// accept time.
func NewConnID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return "c_" + hex.EncodeToString(buf)
	}

	// crypto/rand should never fail; fall back to a timestamp if it does.
	return "c_" + strconv.FormatInt(time.Now().UnixNano(), 10)
}
