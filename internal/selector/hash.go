package selector

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefix for content-addressed node identity.
// Version suffix enables future algorithm migration.
const nodeDomain = "sigil/node/v1"

// nodeHash computes SHA-256 with domain separation over the substring
// that determines a node's structure.
// Format: SHA256(domain + 0x00 + text)
// The null byte separator prevents domain/data boundary ambiguity.
//
// The hash is the node's stable external identity: journal rows and
// DAG dumps reference nodes by it, and it survives process restarts
// because it depends only on the selector text. In-memory interning
// keys on the text itself, so hash collisions cannot corrupt the DAG.
func nodeHash(text string) string {
	h := sha256.New()
	h.Write([]byte(nodeDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
