package scene

import (
	"fmt"

	"github.com/roach88/sigil/internal/entity"
	"github.com/roach88/sigil/internal/selector"
)

// ApplyMode controls error handling while applying a document.
type ApplyMode int

const (
	// ApplyFailFast stops at the first error.
	ApplyFailFast ApplyMode = iota
	// ApplyCollectAll keeps going and reports everything at the end.
	ApplyCollectAll
)

// ApplyResult reports what a document did to the world.
type ApplyResult struct {
	// Scene is the document label.
	Scene string

	// Spawned lists the allocated entities in declaration order.
	Spawned []entity.Index

	// ByID maps declared ids to their entities.
	ByID map[string]entity.Index

	// ByLabel maps document labels to their entities.
	ByLabel map[string]entity.Index

	// Roots are the registered selector nodes in declaration order.
	Roots []*selector.Node
}

// Entity resolves a document handle, trying labels first and falling
// back to declared ids.
func (r *ApplyResult) Entity(handle string) (entity.Index, bool) {
	if ix, ok := r.ByLabel[handle]; ok {
		return ix, true
	}
	ix, ok := r.ByID[handle]
	return ix, ok
}

// Apply spawns the document's entities, attaches their ids and tags,
// then registers the document's selectors, all in declaration order.
// Validate the document first; Apply repeats no schema checking.
// Selector parse failures surface both in the returned errors and on
// the world's error bus. In collect-all mode a failed declaration is
// skipped and the rest of the document still applies.
func Apply(w *World, doc *Document, mode ApplyMode) (*ApplyResult, []error) {
	res := &ApplyResult{
		Scene:   doc.Scene,
		ByID:    make(map[string]entity.Index),
		ByLabel: make(map[string]entity.Index),
	}
	var errs []error

	for i, decl := range doc.Entities {
		pool := entity.PoolScene
		if decl.Pool != "" {
			p, err := entity.ParsePool(decl.Pool)
			if err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("entities[%d].pool", i),
					Message: err.Error(),
					Code:    ErrCodeInvalidPool,
				})
				if mode == ApplyFailFast {
					return res, errs
				}
				continue
			}
			pool = p
		}

		ix, err := w.Alloc.Alloc(pool)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("entities[%d]", i),
				Message: err.Error(),
				Code:    ErrCodePoolExhausted,
			})
			if mode == ApplyFailFast {
				return res, errs
			}
			continue
		}
		res.Spawned = append(res.Spawned, ix)
		if decl.Label != "" {
			res.ByLabel[decl.Label] = ix
		}

		if decl.ID != "" {
			if err := w.IDs.Attach(decl.ID, ix); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("entities[%d].id", i),
					Message: err.Error(),
					Code:    ErrCodeAttachFailed,
				})
				if mode == ApplyFailFast {
					return res, errs
				}
			} else {
				res.ByID[decl.ID] = ix
			}
		}

		for _, tag := range decl.Tags {
			if err := w.Tags.Add(tag, ix); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("entities[%d].tags", i),
					Message: err.Error(),
					Code:    ErrCodeAttachFailed,
				})
				if mode == ApplyFailFast {
					return res, errs
				}
			}
		}
	}

	for i, sel := range doc.Selectors {
		node, err := w.Reg.TryParse(sel)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("selectors[%d]", i),
				Message: err.Error(),
				Code:    ErrCodeInvalidSelector,
			})
			if mode == ApplyFailFast {
				return res, errs
			}
			continue
		}
		res.Roots = append(res.Roots, node)
	}

	w.log.Info("scene applied",
		"scene", doc.Scene,
		"entities", len(res.Spawned),
		"selectors", len(res.Roots),
		"errors", len(errs))
	return res, errs
}
