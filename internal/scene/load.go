package scene

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/sigil/internal/selector"
)

// LoadMode controls how errors are handled while loading a directory.
type LoadMode int

const (
	// LoadFailFast stops on the first error encountered.
	LoadFailFast LoadMode = iota
	// LoadCollectAll collects all errors before returning.
	LoadCollectAll
)

// LoadResult is the outcome of loading a scene directory.
type LoadResult struct {
	// Documents holds the decoded, validated documents in file order.
	Documents []*Document

	// FileCount is the number of scene files found, including ones
	// that failed to load.
	FileCount int
}

// FindSceneFiles walks dir and returns every .yaml and .yml path.
// filepath.Walk visits lexically, so load order is deterministic.
func FindSceneFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// LoadDir loads and validates every scene document under dir. A
// document that fails validation is excluded from the result; in
// collect-all mode loading continues past it.
func LoadDir(dir string, limits selector.Limits, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Path: dir, Message: "scene directory not found"}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Path: dir, Message: fmt.Sprintf("accessing scene directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Path: dir, Message: "not a directory"}}
	}

	files, err := FindSceneFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Path: dir, Message: fmt.Sprintf("scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Path: dir, Message: "no scene files found"}}
	}

	result := &LoadResult{FileCount: len(files)}
	var errs []error

	for _, path := range files {
		doc, err := ParseFile(path)
		if err != nil {
			errs = append(errs, err)
			if mode == LoadFailFast {
				return result, errs
			}
			continue
		}

		vErrs := Validate(doc, limits)
		for _, ve := range vErrs {
			errs = append(errs, &LoadError{
				Code:    ve.Code,
				Path:    path,
				Message: fmt.Sprintf("%s: %s", ve.Field, ve.Message),
			})
		}
		if len(vErrs) > 0 {
			if mode == LoadFailFast {
				return result, errs
			}
			continue
		}

		result.Documents = append(result.Documents, doc)
	}

	return result, errs
}
