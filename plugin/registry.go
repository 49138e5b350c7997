// Package plugin provides the pipeline plugin registry: namespace-scoped
// lookup of interchangeable stage implementations with contract validation
// and optional manifest signature verification.
package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360studio/ragline/plugin/stage"
)

// Options configures a Registry. Zero values fall back to environment
// defaults: production enables signature verification in fail-closed mode,
// development disables verification entirely.
type Options struct {
	// Environment overrides environment detection.
	Environment Environment

	// VerifySignatures overrides the environment default.
	VerifySignatures *bool

	// FailClosed overrides the environment default. When true a failed
	// verification aborts registration; when false it is demoted to a
	// logged warning.
	FailClosed *bool

	// TrustedKeysPath loads an ed25519 verifier from a JSON key file.
	// Ignored when Verifier is set.
	TrustedKeysPath string

	// Verifier checks manifest signatures. Required (directly or via
	// TrustedKeysPath) when verification is enabled and manifests are used.
	Verifier Verifier

	// AuditSink receives verification audit records.
	// Defaults to an in-memory sink exposed by AuditTrail.
	AuditSink AuditSink

	// DisableContractWarnings suppresses missing-contract warnings.
	DisableContractWarnings bool

	// ValidateContractSchema controls JSON-Schema validation of loaded
	// contract documents. Nil means enabled.
	ValidateContractSchema *bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Entry is one registered plugin. Entries are immutable after
// registration and removed only by Clear.
type Entry struct {
	Category stage.Category
	Name     string
	Impl     any
	Metadata stage.Metadata
	Manifest *Manifest
}

type entryKey struct {
	category stage.Category
	name     string
}

// Registry is a process-wide namespace of stage plugins keyed by
// (category, name). All validation happens at registration; Get never
// fails for reasons other than absence.
type Registry struct {
	mu        sync.RWMutex
	entries   map[entryKey]*Entry
	contracts map[stage.Category]*Contract

	env            Environment
	verify         bool
	failClosed     bool
	validateSchema bool
	verifier       Verifier
	audit          AuditSink
	warnings       *warnOnce
	logger         *slog.Logger
}

// New creates a registry with the given options.
// Returns an error only when TrustedKeysPath cannot be loaded.
func New(opts Options) (*Registry, error) {
	env := opts.Environment
	if env == "" {
		env = DetectEnvironment()
	}

	verify := env.IsProduction()
	if opts.VerifySignatures != nil {
		verify = *opts.VerifySignatures
	}
	failClosed := env.IsProduction()
	if opts.FailClosed != nil {
		failClosed = *opts.FailClosed
	}
	validateSchema := true
	if opts.ValidateContractSchema != nil {
		validateSchema = *opts.ValidateContractSchema
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	verifier := opts.Verifier
	if verifier == nil && opts.TrustedKeysPath != "" {
		v, err := NewEd25519VerifierFromFile(opts.TrustedKeysPath)
		if err != nil {
			return nil, fmt.Errorf("load trusted keys: %w", err)
		}
		verifier = v
	}

	audit := opts.AuditSink
	if audit == nil {
		audit = NewMemoryAuditSink()
	}

	return &Registry{
		entries:        make(map[entryKey]*Entry),
		contracts:      make(map[stage.Category]*Contract),
		env:            env,
		verify:         verify,
		failClosed:     failClosed,
		validateSchema: validateSchema,
		verifier:       verifier,
		audit:          audit,
		warnings:       newWarnOnce(env, opts.DisableContractWarnings, logger),
		logger:         logger,
	}, nil
}

// MustNew creates a registry, panicking on invalid options.
// Use for known-good configurations.
func MustNew(opts Options) *Registry {
	r, err := New(opts)
	if err != nil {
		panic(err)
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-default registry, creating it with
// environment defaults on first use. Construction stays explicit for
// library embedders; the default exists for CLI convenience.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		if defaultRegistry == nil {
			defaultRegistry = MustNew(Options{})
		}
	})
	return defaultRegistry
}

// RegisterContract installs a contract for its category, replacing any
// previous contract for that category.
func (r *Registry) RegisterContract(c *Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[c.Category] = c
}

// LoadContracts discovers and installs contract documents under dir.
// In production, documents failing schema validation are logged and
// skipped; in development the first failure is returned.
func (r *Registry) LoadContracts(dir string) error {
	contracts, skipped, err := LoadContractsDir(dir, r.env, r.validateSchema)
	if err != nil {
		return err
	}
	for _, se := range skipped {
		r.logger.Error("skipping invalid contract", "error", se)
	}
	for _, c := range contracts {
		r.RegisterContract(c)
	}
	return nil
}

// Contract returns the installed contract for a category, or nil.
func (r *Registry) Contract(category stage.Category) *Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contracts[category]
}

// Register validates and stores a plugin implementation under
// (category, name). All failures surface here; lookups never re-validate.
func (r *Registry) Register(category stage.Category, name string, impl any, manifest *Manifest) error {
	if !category.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if name == "" {
		return fmt.Errorf("%w: plugin name is empty", ErrInvalidArgument)
	}
	if impl == nil {
		return fmt.Errorf("%w: plugin implementation is nil", ErrInvalidArgument)
	}

	meta, missing := extractMetadata(impl, category)
	if len(missing) > 0 {
		return &ContractViolationError{Category: category, Name: name, Missing: missing}
	}

	contract := r.Contract(category)
	if contract == nil {
		r.warnings.warn("missing-contract", string(category),
			"no contract registered for plugin category; registration proceeds unvalidated",
			"category", category, "plugin", name)
	} else if missing := validateImpl(impl, contract); len(missing) > 0 {
		return &ContractViolationError{Category: category, Name: name, Missing: missing}
	}

	if manifest != nil && r.verify {
		if err := r.verifyManifest(name, manifest); err != nil {
			if r.failClosed {
				return err
			}
			r.logger.Warn("manifest verification failed, proceeding (fail-open)",
				"plugin", name, "signer_id", manifest.SignerID, "error", err)
		}
	}

	key := entryKey{category: category, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: plugin %s/%s already registered", ErrInvalidArgument, category, name)
	}
	r.entries[key] = &Entry{
		Category: category,
		Name:     name,
		Impl:     impl,
		Metadata: meta,
		Manifest: manifest,
	}
	return nil
}

// verifyManifest runs the configured verifier and emits an audit record
// for the attempt regardless of outcome.
func (r *Registry) verifyManifest(name string, m *Manifest) error {
	rec := newAuditRecord("verify-signature", name)
	rec.SignerID = m.SignerID
	rec.Version = m.Version

	if r.verifier == nil {
		rec.Error = "no verifier configured"
		r.audit.Record(rec)
		return &SignatureError{Name: name, SignerID: m.SignerID, Err: fmt.Errorf("no verifier configured")}
	}

	verified, err := r.verifier.VerifyPluginSignature(m, m.Signature, m.SignerID)
	rec.Verified = verified
	if err != nil {
		rec.Error = err.Error()
	}
	r.audit.Record(rec)

	if !verified {
		return &SignatureError{Name: name, SignerID: m.SignerID, Err: err}
	}
	return nil
}

// Get returns the implementation registered under (category, name).
func (r *Registry) Get(category stage.Category, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[entryKey{category: category, name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
	}
	return entry.Impl, nil
}

// GetEntry returns the full registry entry for (category, name).
func (r *Registry) GetEntry(category stage.Category, name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[entryKey{category: category, name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
	}
	return entry, nil
}

// List returns the names registered under a category, sorted.
func (r *Registry) List(category stage.Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for key := range r.entries {
		if key.category == category {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}

// Clear removes all registered plugins. Contracts stay installed.
// Must not be called concurrently with Register.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[entryKey]*Entry)
}

// AuditTrail returns retained audit records when the registry uses the
// in-memory sink, nil otherwise.
func (r *Registry) AuditTrail() []AuditRecord {
	if sink, ok := r.audit.(*MemoryAuditSink); ok {
		return sink.Records()
	}
	return nil
}

// extractMetadata pulls and validates plugin metadata.
// Returns the metadata plus a list of violations (empty on success).
func extractMetadata(impl any, category stage.Category) (stage.Metadata, []string) {
	p, ok := impl.(stage.Plugin)
	if !ok {
		return stage.Metadata{}, []string{"method Metadata"}
	}

	meta := p.Metadata()
	var missing []string
	if meta.Name == "" {
		missing = append(missing, "metadata.name")
	}
	if meta.Version == "" {
		missing = append(missing, "metadata.version")
	}
	if meta.Type != category {
		missing = append(missing, fmt.Sprintf("metadata.type (got %q, want %q)", meta.Type, category))
	}
	return meta, missing
}
