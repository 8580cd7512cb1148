package store

import (
	"github.com/google/uuid"
)

// TokenSource produces session tokens for recorded runs.
// Implemented by UUIDv7Source (production) and FixedTokens (tests).
type TokenSource interface {
	Token() string
}

// UUIDv7Source issues time-sortable UUIDv7 tokens. The embedded
// timestamp makes session listings read in creation order.
//
// Panics if UUID generation fails (should never happen in practice).
type UUIDv7Source struct{}

// Token returns a new UUIDv7 as a hyphenated string.
func (UUIDv7Source) Token() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedTokens returns predetermined tokens in order. Tests use it for
// deterministic session tokens in golden traces.
type FixedTokens struct {
	tokens []string
	idx    int
}

// NewFixedTokens creates a source that hands out tokens in order.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Token returns the next predetermined token.
//
// Panics when all tokens are consumed, to catch tests that record
// more sessions than they provisioned.
func (f *FixedTokens) Token() string {
	if f.idx >= len(f.tokens) {
		panic("FixedTokens: all tokens exhausted")
	}
	token := f.tokens[f.idx]
	f.idx++
	return token
}
