package linkaudit

import (
	"strings"

	sha256hash "github.com/domainlink/linkauditor/internal/hash/sha256"
)

var idHasher = sha256hash.New()

// deterministicID joins parts with a separator unlikely to appear in
// URLs or domain names and hashes the result. The hasher never
// returns an error for SHA-256 over []byte, so the error is discarded
// here rather than threaded through every caller.
func deterministicID(parts ...string) string {
	joined := strings.Join(parts, "\x1f")
	digest, _ := idHasher.Hash([]byte(joined))
	return digest
}
