package ratelimit

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewUserID returns an identifier for an anonymous caller in the form
// user_<epoch-ms>_<9 base36 chars>.
func NewUserID(now time.Time) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return fmt.Sprintf("user_%d_%s", now.UnixMilli(), suffix)
}
