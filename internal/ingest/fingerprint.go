package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable posting identity from the
// (company, normalized title, location, source) tuple. The same posting
// scraped twice must always hash to the same value.
func Fingerprint(company, title, location, source string) string {
	key := strings.Join([]string{
		strings.ToLower(CleanText(company)),
		NormalizeTitle(title),
		strings.ToLower(NormalizeLocation(location)),
		strings.ToLower(CleanText(source)),
	}, "|")
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
