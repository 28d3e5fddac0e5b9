// Package keys builds cache keys and dataset source hashes.
package keys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Pipeline identifiers carried in source hashes so cached records reveal
// which adapter generation produced them.
const (
	SourceMock       = "v1-mock-data"
	SourceReal       = "v2-real-data"
	SourceRealPrecip = "v3-nasa-imerg"
)

// CellV1 keys a legacy flat record.
func CellV1(cell string) string {
	return "cell:v1:" + strings.TrimSpace(cell)
}

// CellV2 keys a full-distribution record. The timestamp participates in the
// key so a lookup at a different timestamp is a miss.
func CellV2(cell, timestamp string) string {
	return "cell:v2:" + strings.TrimSpace(cell) + ":" + sanitize(timestamp)
}

// Tile keys a serialized tile response.
func Tile(z, x, y int, compact bool) string {
	if compact {
		return fmt.Sprintf("tile:%d:%d:%d:c", z, x, y)
	}
	return fmt.Sprintf("tile:%d:%d:%d", z, x, y)
}

// SourceHash fingerprints the adapter set that produced a record. The
// pipeline identifier stays readable; the adapter list is hashed.
func SourceHash(pipeline string, adapters []string) string {
	sorted := make([]string, len(adapters))
	copy(sorted, adapters)
	sort.Strings(sorted)
	sum := xxhash.Sum64String(strings.Join(sorted, ","))
	return fmt.Sprintf("%s:%016x", pipeline, sum)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "latest"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteByte('_')
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == ':' || r == '-' || r == '_' || r == '.' || r == '+':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
