package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/nimbusgen/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID identifies the generator manifest schema.
const SchemaID = "nimbusgen/v1.0.0/generator-manifest"

var (
	ErrSchemaNotFound   = errors.New("manifest schema not found")
	ErrValidationFailed = errors.New("manifest validation failed")
)

// ValidationError is one problem found in a manifest. Path is a JSON
// pointer such as "/assets/logs/max_keys".
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every problem found in one pass. It matches
// ErrValidationFailed under errors.Is.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ErrValidationFailed.Error()
	case 1:
		return e[0].Error()
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, fmt.Sprintf("%s with %d errors:", ErrValidationFailed, len(e)))
	for _, ve := range e {
		lines = append(lines, "  - "+ve.Error())
	}
	return strings.Join(lines, "\n")
}

func (e ValidationErrors) Unwrap() error { return ErrValidationFailed }

func (e *ValidationErrors) add(path, format string, args ...any) {
	*e = append(*e, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Validate checks an in-memory manifest against the schema. Typed structs
// cannot carry unknown fields, so ValidateRaw is the strict form.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks a JSON document against the embedded schema and
// returns ValidationErrors for every error-severity diagnostic.
func ValidateRaw(jsonData []byte) error {
	v, err := compiledSchema()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	return errs.orNil()
}

var compiledSchema = sync.OnceValues(func() (*schema.Validator, error) {
	if len(schemasassets.GeneratorManifestSchema) == 0 {
		return nil, fmt.Errorf("%w: embedded generator-manifest schema is empty", ErrSchemaNotFound)
	}
	v, err := schema.NewValidator(schemasassets.GeneratorManifestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return v, nil
})

// checkConsistency enforces rules that span fields and so cannot live in
// the schema. It runs after ApplyDefaults.
func checkConsistency(m *Manifest) error {
	var errs ValidationErrors
	switch m.Connection.Provider {
	case "file":
		if strings.TrimSpace(m.Connection.BaseDir) == "" {
			errs.add("/connection/base_dir", "required when provider is file")
		}
	case "minio":
		if strings.TrimSpace(m.Connection.Endpoint) == "" {
			errs.add("/connection/endpoint", "required when provider is minio")
		}
	}
	if m.Cursor.Backend == "sqlite" && strings.TrimSpace(m.Cursor.Path) == "" {
		errs.add("/cursor/path", "required when backend is sqlite")
	}
	if _, err := m.CursorStoreConfig(); err != nil {
		errs.add("/cursor/ttl", "%v", err)
	}
	return errs.orNil()
}
