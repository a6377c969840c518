package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/subject"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

var (
	// ErrContractViolation marks every payload or subject rejected by the index
	ErrContractViolation = errors.New("contract violation")

	// ErrCatalogMissing is returned when the catalog file does not exist
	ErrCatalogMissing = errors.New("contract catalog not found")
)

// ContractViolation describes why a payload was rejected
type ContractViolation struct {
	Subject string
	Reason  string
	Err     error
}

func (v *ContractViolation) Error() string {
	if v.Err != nil {
		return fmt.Sprintf("contract violation on %s: %s: %v", v.Subject, v.Reason, v.Err)
	}
	return fmt.Sprintf("contract violation on %s: %s", v.Subject, v.Reason)
}

// Is matches ErrContractViolation
func (v *ContractViolation) Is(target error) bool {
	return target == ErrContractViolation
}

func (v *ContractViolation) Unwrap() error {
	return v.Err
}

// Catalog is the on-disk list of contracts
type Catalog struct {
	Contracts []types.Contract `yaml:"contracts" json:"contracts"`
}

// LoadCatalog reads a YAML or JSON catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogMissing, path)
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &catalog, nil
}

// compiled is a contract with its resolved schema. fields holds the
// top-level property schemas, resolved on their own for partial payloads.
type compiled struct {
	contract types.Contract
	schema   *jsonschema.Resolved
	fields   map[string]*jsonschema.Resolved
	extra    *jsonschema.Resolved
}

// Index resolves subjects to contracts and validates payloads against them
type Index struct {
	exact    map[string]*compiled
	patterns []*compiled
	order    []*compiled
}

// NewIndex compiles every contract in the catalog once
func NewIndex(catalog *Catalog) (*Index, error) {
	idx := &Index{exact: make(map[string]*compiled)}
	if catalog == nil {
		return idx, nil
	}

	var errs []error
	for i := range catalog.Contracts {
		c := catalog.Contracts[i]
		entry, err := compile(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("contract %d (%s): %w", i, c.Pattern(), err))
			continue
		}

		switch c.Kind() {
		case types.ContractExact:
			if _, dup := idx.exact[c.Subject]; dup {
				errs = append(errs, fmt.Errorf("contract %d: duplicate subject %s", i, c.Subject))
				continue
			}
			idx.exact[c.Subject] = entry
		case types.ContractPattern:
			idx.patterns = append(idx.patterns, entry)
		}
		idx.order = append(idx.order, entry)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	logger := log.WithComponent("contract")
	logger.Debug().
		Int("exact", len(idx.exact)).
		Int("patterns", len(idx.patterns)).
		Msg("contract index built")
	return idx, nil
}

func compile(c types.Contract) (*compiled, error) {
	if c.Subject == "" && c.SubjectPattern == "" {
		return nil, errors.New("subject or subjectPattern is required")
	}
	if c.Subject != "" && !subject.Valid(c.Subject) {
		return nil, fmt.Errorf("invalid subject %q", c.Subject)
	}
	if c.Kind() == types.ContractExact && subject.IsPattern(c.Subject) {
		return nil, fmt.Errorf("subject %q contains wildcards, use subjectPattern", c.Subject)
	}
	if c.SubjectPattern != "" && !subject.Valid(c.SubjectPattern) {
		return nil, fmt.Errorf("invalid subjectPattern %q", c.SubjectPattern)
	}

	entry := &compiled{contract: c}
	if len(c.PayloadSchema) == 0 {
		return entry, nil
	}

	raw, err := json.Marshal(c.PayloadSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}
	entry.schema = resolved

	// Property schemas come from a separate decode so resolving them does not
	// touch the tree owned by entry.schema.
	var parts jsonschema.Schema
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	entry.fields = make(map[string]*jsonschema.Resolved, len(parts.Properties))
	for name, prop := range parts.Properties {
		if prop == nil {
			continue
		}
		field, err := prop.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve property %s: %w", name, err)
		}
		entry.fields[name] = field
	}
	if parts.AdditionalProperties != nil {
		extra, err := parts.AdditionalProperties.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve additionalProperties: %w", err)
		}
		entry.extra = extra
	}
	return entry, nil
}

// Find returns the contract for subj. Exact subjects win; otherwise patterns
// are tried in registration order. A single trailing scope token is accepted
// only by contracts that declare SupportsScopedSuffix.
func (idx *Index) Find(subj string) (*types.Contract, bool) {
	entry := idx.find(subj)
	if entry == nil {
		return nil, false
	}
	c := entry.contract
	return &c, true
}

func (idx *Index) find(subj string) *compiled {
	if entry, ok := idx.exact[subj]; ok {
		return entry
	}
	base, _, scoped := subject.SplitScope(subj)
	if scoped {
		if entry, ok := idx.exact[base]; ok && entry.contract.SupportsScopedSuffix {
			return entry
		}
	}
	for _, entry := range idx.patterns {
		if subject.Match(entry.contract.SubjectPattern, subj) {
			return entry
		}
		if scoped && entry.contract.SupportsScopedSuffix && subject.Match(entry.contract.SubjectPattern, base) {
			return entry
		}
	}
	return nil
}

// Validate checks a raw JSON payload against the contract for subj
func (idx *Index) Validate(subj string, payload []byte) error {
	entry := idx.find(subj)
	if entry == nil {
		return &ContractViolation{Subject: subj, Reason: "no contract for subject"}
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return &ContractViolation{Subject: subj, Reason: "payload is not valid JSON", Err: err}
	}
	return entry.validate(subj, value)
}

// ValidateValue checks an already decoded JSON value against the contract for subj
func (idx *Index) ValidateValue(subj string, value any) error {
	entry := idx.find(subj)
	if entry == nil {
		return &ContractViolation{Subject: subj, Reason: "no contract for subject"}
	}
	return entry.validate(subj, value)
}

// ValidatePatch checks a merge patch for subj without a base document.
// Each field the patch sets must satisfy its property schema; null removes
// a field and nested objects are partial, so both are left to the merged check.
func (idx *Index) ValidatePatch(subj string, patch map[string]any) error {
	entry := idx.find(subj)
	if entry == nil {
		return &ContractViolation{Subject: subj, Reason: "no contract for subject"}
	}
	for name, value := range patch {
		if value == nil {
			continue
		}
		if _, nested := value.(map[string]any); nested {
			continue
		}
		field, ok := entry.fields[name]
		if !ok {
			field = entry.extra
		}
		if field == nil {
			continue
		}
		if err := field.Validate(value); err != nil {
			return &ContractViolation{
				Subject: subj,
				Reason:  fmt.Sprintf("field %s does not satisfy %s", name, entry.contract.PayloadType),
				Err:     err,
			}
		}
	}
	return nil
}

func (c *compiled) validate(subj string, value any) error {
	if c.schema == nil {
		return nil
	}
	if err := c.schema.Validate(value); err != nil {
		return &ContractViolation{
			Subject: subj,
			Reason:  fmt.Sprintf("payload does not satisfy %s", c.contract.PayloadType),
			Err:     err,
		}
	}
	return nil
}

// Contracts returns every contract in registration order
func (idx *Index) Contracts() []types.Contract {
	out := make([]types.Contract, len(idx.order))
	for i, entry := range idx.order {
		out[i] = entry.contract
	}
	return out
}

// Len returns the number of contracts in the index
func (idx *Index) Len() int {
	return len(idx.order)
}
