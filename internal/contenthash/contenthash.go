// Package contenthash computes stable digests of normalized item content.
// The digest is the pipeline's delta-detection signal: a stage re-runs for an
// item only when the digest differs from the one recorded at the stage's last
// success.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex digest of the given content. Leading and trailing
// whitespace is ignored so incidental trailing newlines from exports do not
// invalidate downstream work.
func Sum(content []byte) string {
	trimmed := strings.TrimSpace(string(content))
	digest := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(digest[:])
}

// SumString is a convenience wrapper over Sum for string content.
func SumString(content string) string {
	return Sum([]byte(content))
}
