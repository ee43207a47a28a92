package util

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	requestIDPrefix = "req_"
	nanoidLength    = 21
	nanoidAlphabet  = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewRequestID returns a fresh "req_" prefixed nanoid.
func NewRequestID() string {
	return requestIDPrefix + gonanoid.Must()
}

// IsRequestID reports whether s has the shape produced by NewRequestID.
func IsRequestID(s string) bool {
	id, ok := strings.CutPrefix(s, requestIDPrefix)
	return ok && isNanoid(id)
}

func isNanoid(s string) bool {
	if len(s) != nanoidLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(nanoidAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
