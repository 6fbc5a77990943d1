package replication

import (
	"path/filepath"
	"strings"
)

// invalidSuffix is the conventional marker appended before the
// extension on an invalidated replica copy (spec.md §3, §4.2.1).
const invalidSuffix = "_invalid"

// appendInvalidSuffix renders "foo.txt" as "foo_invalid.txt".
// Extensionless names simply append the suffix: "foo" -> "foo_invalid".
func appendInvalidSuffix(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + invalidSuffix + ext
}

// stripInvalidSuffix is the left inverse of appendInvalidSuffix: it
// recovers the canonical name from a marker file name. Names without
// the marker are returned unchanged.
func stripInvalidSuffix(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if strings.HasSuffix(base, invalidSuffix) {
		base = strings.TrimSuffix(base, invalidSuffix)
	}
	return base + ext
}

// isInvalidMarker reports whether name carries the invalidation
// marker suffix.
func isInvalidMarker(name string) bool {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return strings.HasSuffix(base, invalidSuffix)
}
