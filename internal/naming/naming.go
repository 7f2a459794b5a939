// Package naming provides short deterministic hashes and name shaping used for
// Kubernetes label values, annotations and generated namespace names. Keeping the
// logic here allows future changes (length/algorithm) without touching call sites.
package naming

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// defaultLength defines the hex length of hashes (bits ~ length * 4).
const defaultLength = 6

// labelValueMaxLength is the Kubernetes limit for label values.
const labelValueMaxLength = 63

// ShortHash returns the hex SHA1 prefix of length n (clamped to digest size).
func ShortHash(s string, n int) string {
	sum := sha1.Sum([]byte(s))
	h := fmt.Sprintf("%x", sum)
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

// ContentHash returns the default-length hash of s.
func ContentHash(s string) string {
	return ShortHash(s, defaultLength)
}

// LabelValue returns s unchanged when it fits in a label value. Longer values are
// truncated and suffixed with a hash of the full value so distinct inputs stay distinct:
//
//	<prefix>-<HASH>
func LabelValue(s string) string {
	if len(s) <= labelValueMaxLength {
		return s
	}
	h := ShortHash(s, defaultLength)
	prefix := s[:labelValueMaxLength-len(h)-1]
	// Label values must end with an alphanumeric character.
	prefix = strings.TrimRight(prefix, "-_.")
	return prefix + "-" + h
}

// DefaultNamespace returns the namespace used when a deployment target does not name one:
//
//	<app>-<env>
//
// Over-long results are shortened the same way as label values.
func DefaultNamespace(app, env string) string {
	ns := strings.ToLower(app + "-" + env)
	return LabelValue(ns)
}
