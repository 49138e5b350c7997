package plugin

import (
	"fmt"
	"strings"

	"github.com/c360studio/ragline/plugin/stage"
)

// Common registry errors.
var (
	// ErrNotFound is returned by Get when no plugin matches (category, name).
	ErrNotFound = fmt.Errorf("plugin not found")

	// ErrUnknownCategory is returned when a category is not one of the
	// known stage categories.
	ErrUnknownCategory = fmt.Errorf("unknown plugin category")

	// ErrInvalidArgument is returned for empty names, nil implementations,
	// and duplicate registrations.
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ContractViolationError reports an implementation that does not satisfy
// the contract for its category. Missing lists the absent methods or
// metadata fields in the order they were checked; the message names the
// first one so callers see a precise, actionable reason.
type ContractViolationError struct {
	Category stage.Category
	Name     string
	Missing  []string
}

func (e *ContractViolationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("plugin %q violates %s contract", e.Name, e.Category)
	}
	if len(e.Missing) == 1 {
		return fmt.Sprintf("plugin %q violates %s contract: missing %s", e.Name, e.Category, e.Missing[0])
	}
	return fmt.Sprintf("plugin %q violates %s contract: missing %s (and %d more: %s)",
		e.Name, e.Category, e.Missing[0], len(e.Missing)-1, strings.Join(e.Missing[1:], ", "))
}

// SignatureError reports a failed manifest signature verification.
type SignatureError struct {
	Name     string
	SignerID string
	Err      error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature verification failed for plugin %q (signer %s): %v", e.Name, e.SignerID, e.Err)
	}
	return fmt.Sprintf("signature verification failed for plugin %q (signer %s)", e.Name, e.SignerID)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

// SchemaError reports a contract document that failed JSON-Schema validation.
type SchemaError struct {
	// Path is the contract file path, when loaded from disk.
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid contract %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("invalid contract: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
