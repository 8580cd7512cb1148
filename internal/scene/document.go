// Package scene loads authored scene documents and applies them to a
// live world: spawning entities into the right pools, attaching ids
// and tags, and registering the document's selectors. Documents are
// YAML, schema-checked against the embedded CUE definition before any
// world state changes.
package scene

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is one authored scene file.
type Document struct {
	// Scene is the document label, used in logs and journal rows.
	Scene string `yaml:"scene" json:"scene"`

	// Entities declares the entities to spawn, in order.
	Entities []EntityDecl `yaml:"entities,omitempty" json:"entities,omitempty"`

	// Selectors are parsed and registered after all entities exist.
	Selectors []string `yaml:"selectors,omitempty" json:"selectors,omitempty"`
}

// EntityDecl declares one entity.
type EntityDecl struct {
	// Label is a document-local handle for the entity, used by
	// scenario expectations and mutations. Never visible to selectors.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// ID optionally binds a unique id to the entity.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// Pool is "global" or "scene". Defaults to "scene".
	Pool string `yaml:"pool,omitempty" json:"pool,omitempty"`

	// Tags are attached in declaration order.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Error codes, unified across loading and validation.
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no scene files found
	ErrCodeDecodeError = "E004" // YAML decode failed
	ErrCodeNotFound    = "E005" // path not found

	ErrCodeSchema          = "E101" // CUE schema violation
	ErrCodeDuplicateID     = "E102" // id declared twice in one document
	ErrCodeInvalidPool     = "E103" // pool is not "global" or "scene"
	ErrCodeDuplicateLabel  = "E104" // label declared twice in one document
	ErrCodeInvalidSelector = "E110" // selector fails to parse
	ErrCodePoolExhausted   = "E120" // pool capacity exhausted during apply
	ErrCodeAttachFailed    = "E121" // id/tag attachment rejected
)

// ValidationError is one schema or semantic violation in a document.
// Field is a document path like "entities[2].pool".
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// LoadError is a file-level loading failure.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Parse decodes one scene document. Unknown YAML fields are rejected
// so typos fail loudly instead of silently dropping content. Decoding
// checks shape only; callers run Validate before applying.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Code: ErrCodeDecodeError, Message: fmt.Sprintf("parsing YAML: %v", err)}
	}
	return &doc, nil
}

// ParseFile reads and decodes one scene document.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: "scene file not found"}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Path: path, Message: fmt.Sprintf("reading scene file: %v", err)}
	}
	doc, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return doc, nil
}
