package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// Validator holds one compiled schema per known document type.
type Validator struct {
	schemas map[domain.DocumentType]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[domain.DocumentType]*jsonschema.Schema)}
	for _, t := range domain.KnownDocumentTypes() {
		compiled, err := compileSchema(string(t)+".json", Schema(t))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t, err)
		}
		v.schemas[t] = compiled
	}
	return v, nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

// Validate checks a sanitized document. The returned error names the first
// offending field.
func (v *Validator) Validate(t domain.DocumentType, doc map[string]any) error {
	schema, ok := v.schemas[t]
	if !ok {
		return fmt.Errorf("no schema for document type %q", t)
	}
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	field := ""
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		field = fieldFromValidationError(verr)
	}
	return &domain.DocumentError{
		Kind:         domain.ErrValidation,
		DocumentType: t,
		Field:        field,
		Err:          err,
	}
}

var missingPropertyRe = regexp.MustCompile(`missing propert(?:y|ies):\s*'([^']+)'`)

func fieldFromValidationError(verr *jsonschema.ValidationError) string {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := strings.Trim(leaf.InstanceLocation, "/")
	location = strings.ReplaceAll(location, "/", ".")
	if m := missingPropertyRe.FindStringSubmatch(leaf.Message); m != nil {
		if location == "" {
			return m[1]
		}
		return location + "." + m[1]
	}
	return location
}
