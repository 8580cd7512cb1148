package scene

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/sigil/internal/selector"
)

//go:embed scene.cue
var schemaSource string

// Validate checks doc against the embedded CUE schema, then applies
// the rules CUE cannot express: id uniqueness within the document and
// selector parseability under the given limits. All violations are
// returned, not just the first.
func Validate(doc *Document, limits selector.Limits) []ValidationError {
	errs := validateSchema(doc)
	errs = append(errs, validateSemantics(doc, limits)...)
	return errs
}

func validateSchema(doc *Document) []ValidationError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("scene.cue"))
	if err := schema.Err(); err != nil {
		return []ValidationError{{
			Field:   "schema",
			Message: fmt.Sprintf("compiling embedded schema: %v", err),
			Code:    ErrCodeSchema,
		}}
	}

	unified := schema.LookupPath(cue.ParsePath("#Scene")).Unify(ctx.Encode(doc))
	err := unified.Validate(cue.Concrete(true), cue.Final())
	if err == nil {
		return nil
	}

	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "document"
		}
		out = append(out, ValidationError{
			Field:   field,
			Message: e.Error(),
			Code:    ErrCodeSchema,
		})
	}
	return out
}

func validateSemantics(doc *Document, limits selector.Limits) []ValidationError {
	var errs []ValidationError

	seenIDs := make(map[string]int)
	seenLabels := make(map[string]int)
	for i, decl := range doc.Entities {
		if decl.ID != "" {
			if prev, ok := seenIDs[decl.ID]; ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("entities[%d].id", i),
					Message: fmt.Sprintf("id %q already declared at entities[%d]", decl.ID, prev),
					Code:    ErrCodeDuplicateID,
				})
			} else {
				seenIDs[decl.ID] = i
			}
		}
		if decl.Label != "" {
			if prev, ok := seenLabels[decl.Label]; ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("entities[%d].label", i),
					Message: fmt.Sprintf("label %q already declared at entities[%d]", decl.Label, prev),
					Code:    ErrCodeDuplicateLabel,
				})
			} else {
				seenLabels[decl.Label] = i
			}
		}
	}

	for i, sel := range doc.Selectors {
		if err := selector.Validate(sel, limits); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("selectors[%d]", i),
				Message: err.Error(),
				Code:    ErrCodeInvalidSelector,
			})
		}
	}

	return errs
}
