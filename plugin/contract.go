package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/c360studio/ragline/plugin/stage"
)

// Contract declares the operations a plugin category must implement.
// Contracts are plain JSON documents validated against contractSchema
// before use; a registered plugin must expose a callable for every method
// the contract names.
type Contract struct {
	// Category is the stage category this contract governs.
	Category stage.Category `json:"category"`

	// Version is the contract's semantic version.
	Version string `json:"version"`

	// Required lists method names every implementation must expose.
	Required []string `json:"required_methods"`

	// Properties describes additional members. Entries with type
	// "function" are treated as required methods; scalar entries are
	// informational.
	Properties map[string]ContractProperty `json:"properties,omitempty"`
}

// ContractProperty describes one contract member.
type ContractProperty struct {
	Type      string `json:"type"`
	Signature string `json:"signature,omitempty"`
}

// contractSchema is the JSON-Schema every contract document must satisfy.
const contractSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["category", "version", "required_methods"],
  "properties": {
    "category": {
      "type": "string",
      "enum": ["loader", "embedder", "retriever", "reranker", "llm", "evaluator"]
    },
    "version": {
      "type": "string",
      "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+"
    },
    "required_methods": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "properties": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string"},
          "signature": {"type": "string"}
        }
      }
    }
  },
  "additionalProperties": false
}`

var compiledContractSchema = jsonschema.MustCompileString("contract.schema.json", contractSchema)

// ParseContract parses and validates a contract document.
// validateSchema controls whether the JSON-Schema check runs; the document
// must still be well-formed JSON either way.
func ParseContract(data []byte, validateSchema bool) (*Contract, error) {
	if validateSchema {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &SchemaError{Err: err}
		}
		if err := compiledContractSchema.Validate(doc); err != nil {
			return nil, &SchemaError{Err: err}
		}
	}

	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &SchemaError{Err: err}
	}
	if !c.Category.IsValid() {
		return nil, &SchemaError{Err: fmt.Errorf("%w: %q", ErrUnknownCategory, c.Category)}
	}
	return &c, nil
}

// Methods returns the full method set an implementation must expose:
// the required methods plus every function-typed property, deduplicated.
// Required methods keep declaration order; property-derived methods are
// appended sorted for determinism.
func (c *Contract) Methods() []string {
	seen := make(map[string]struct{}, len(c.Required))
	methods := make([]string, 0, len(c.Required)+len(c.Properties))
	for _, m := range c.Required {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		methods = append(methods, m)
	}

	var fromProps []string
	for name, prop := range c.Properties {
		if prop.Type != "function" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		fromProps = append(fromProps, name)
	}
	sort.Strings(fromProps)
	return append(methods, fromProps...)
}

// validateImpl checks an implementation against a contract by reflection.
// Contract method names use the wire convention (lowerCamel); the Go method
// is matched on the exported form, with an exact-name fallback.
func validateImpl(impl any, c *Contract) []string {
	v := reflect.ValueOf(impl)

	var missing []string
	for _, m := range c.Methods() {
		if v.MethodByName(exportedName(m)).IsValid() {
			continue
		}
		if v.MethodByName(m).IsValid() {
			continue
		}
		missing = append(missing, "method "+m)
	}
	return missing
}

// exportedName converts a lowerCamel contract method name to the exported
// Go form (embedQuery -> EmbedQuery).
func exportedName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// LoadContractsDir discovers contract documents under dir using a
// recursive glob (**/*.json) and parses each one. In production a document
// that fails schema validation is skipped (the caller logs it); in
// development the first failure is returned so it surfaces at its origin.
func LoadContractsDir(dir string, env Environment, validateSchema bool) ([]*Contract, []error, error) {
	pattern := filepath.Join(dir, "**", "*.json")
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("glob contracts %q: %w", pattern, err)
	}
	sort.Strings(paths)

	var contracts []*Contract
	var skipped []error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read contract %s: %w", path, err)
		}

		c, err := ParseContract(data, validateSchema)
		if err != nil {
			var se *SchemaError
			if serr, ok := err.(*SchemaError); ok {
				se = serr
				se.Path = path
			} else {
				se = &SchemaError{Path: path, Err: err}
			}
			if env.IsProduction() {
				skipped = append(skipped, se)
				continue
			}
			return nil, nil, se
		}
		contracts = append(contracts, c)
	}
	return contracts, skipped, nil
}
