package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrValidation        = errors.New("validation failed")
	ErrNoVendorAvailable = errors.New("no vendor available")
	ErrMissingEntity     = errors.New("missing entity")
	ErrDuplicateImport   = errors.New("duplicate import")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// DocumentError carries enough context for a human to act on a failure:
// which file, what it looked like, and which field was at fault.
type DocumentError struct {
	Kind         error
	Filename     string
	DocumentType DocumentType
	Field        string
	Err          error
}

func (e *DocumentError) Error() string {
	parts := make([]string, 0, 4)
	if e.Filename != "" {
		parts = append(parts, "file "+e.Filename)
	}
	if e.DocumentType != "" {
		parts = append(parts, "type "+string(e.DocumentType))
	}
	if e.Field != "" {
		parts = append(parts, "field "+e.Field)
	}
	msg := e.Kind.Error()
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DocumentError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewDocumentError(kind error, filename string, docType DocumentType, field string, err error) *DocumentError {
	return &DocumentError{Kind: kind, Filename: filename, DocumentType: docType, Field: field, Err: err}
}

// DuplicateImportError is returned when a completed import already exists for
// the same fingerprint. Prior is the record written by the first commit.
type DuplicateImportError struct {
	Prior       *ImportRecord
	Fingerprint string
}

func (e *DuplicateImportError) Error() string {
	if e.Prior == nil {
		return fmt.Sprintf("%s: fingerprint %s", ErrDuplicateImport, e.Fingerprint)
	}
	return fmt.Sprintf("%s: fingerprint %s already imported as %s", ErrDuplicateImport, e.Fingerprint, e.Prior.ID)
}

func (e *DuplicateImportError) Is(target error) bool {
	return target == ErrDuplicateImport
}
