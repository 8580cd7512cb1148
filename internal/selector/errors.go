package selector

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors. Parse codes come back from TryParse
// and are published on the error bus; recalc codes are published only,
// since recalculation has no per-node error return.
type Code string

const (
	// CodeEmptyInput rejects the empty selector string.
	CodeEmptyInput Code = "EMPTY_INPUT"

	// CodeEmptyToken rejects consecutive, leading, or trailing
	// delimiters.
	CodeEmptyToken Code = "EMPTY_TOKEN"

	// CodeInvalidCharacter rejects a character outside the identifier
	// alphabet inside a token.
	CodeInvalidCharacter Code = "INVALID_CHARACTER"

	// CodeInvalidPrefix rejects a term not starting with '@', '#',
	// or '!'.
	CodeInvalidPrefix Code = "INVALID_PREFIX"

	// CodeMissingIdentifier rejects a prefix with no identifier after
	// it.
	CodeMissingIdentifier Code = "MISSING_IDENTIFIER"

	// CodeUnknownEventKeyword rejects a '!' token other than !enter
	// or !exit.
	CodeUnknownEventKeyword Code = "UNKNOWN_EVENT_KEYWORD"

	// CodeLimitExceeded rejects input beyond the configured parser
	// limits.
	CodeLimitExceeded Code = "LIMIT_EXCEEDED"

	// CodeUnresolvedReference reports an id term whose id is bound to
	// no entity at recalc time. Not a parse error and not fatal; the
	// node's match set stays empty.
	CodeUnresolvedReference Code = "UNRESOLVED_REFERENCE"

	// CodePartitionMismatch reports a refinement relating entities
	// across the global/scene pool boundary. The operation is skipped,
	// never a match.
	CodePartitionMismatch Code = "PARTITION_MISMATCH"
)

// ParseError is the discriminated failure TryParse returns. The same
// information is published as an event on the error bus so content
// loading can decide whether to skip the offending string or abort.
type ParseError struct {
	// Code identifies the error category.
	Code Code

	// Input is the full selector string that was rejected.
	Input string

	// Token is the offending token text, when one can be isolated.
	Token string

	// Pos is the byte offset of the offending character or token.
	Pos int

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: selector %q at %d: %s", e.Code, e.Input, e.Pos, e.Message)
}

// AsParseError unwraps err to a ParseError if it is one.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	ok := errors.As(err, &pe)
	return pe, ok
}

// IsCode reports whether err is a ParseError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Code == code
}

func errAt(code Code, input, token string, pos int, format string, args ...any) *ParseError {
	return &ParseError{
		Code:    code,
		Input:   input,
		Token:   token,
		Pos:     pos,
		Message: fmt.Sprintf(format, args...),
	}
}
