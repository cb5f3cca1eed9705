package security

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// SurveyTokenFingerprint returns a stable, non-reversible key for a token so
// shared stores never hold the raw lookup key.
func SurveyTokenFingerprint(token string) string {
	sum := blake2b.Sum256([]byte(NormalizeSurveyToken(token)))
	return hex.EncodeToString(sum[:])
}
