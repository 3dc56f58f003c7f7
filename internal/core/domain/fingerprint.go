package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kirillkom/docimport/internal/core/matching"
)

const WarningNoNaturalKey = "no natural key: duplicate detection skipped"

// Fingerprint identifies a business document by type, issuing party and
// number. The party name is compared without case or punctuation, so a
// reviewer fixing "ACME Corp." to "Acme Corp" keeps the same fingerprint.
// It reports false when the payload has no natural key.
func Fingerprint(p Payload) (string, bool) {
	if p == nil {
		return "", false
	}
	scope, key := p.NaturalKey()
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(string(p.DocumentType()) + "|" + matching.Normalize(scope) + "|" + key))
	return hex.EncodeToString(sum[:]), true
}
