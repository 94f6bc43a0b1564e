// Package randid generates short random labels for log correlation.
package randid

import (
	"math/rand/v2"
	"strings"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a random lowercase alphanumeric string of length n.
func Generate(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// Label joins prefix and a random suffix of length n with a dash, e.g.
// "publisher-k3x9qa". A blank prefix yields just the suffix.
func Label(prefix string, n int) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Generate(n)
	}
	return prefix + "-" + Generate(n)
}
