// Package records validates structured phase records against their JSON
// schemas and decodes them into domain types.
package records

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ashureev/coach-labs/internal/domain"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// ErrUnknownKind is returned for a record kind with no schema.
var ErrUnknownKind = errors.New("unknown record kind")

// ValidationError reports a payload that does not match its record schema.
type ValidationError struct {
	Kind       domain.PhaseKind
	Violations []string
	Err        error
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s: invalid record: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: invalid record: %s", e.Kind, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

type compiled struct {
	raw    []byte
	schema *jsonschema.Schema
}

var schemas map[domain.PhaseKind]compiled

func init() {
	schemas = make(map[domain.PhaseKind]compiled, len(domain.AllKinds))
	for _, kind := range domain.AllKinds {
		schemas[kind] = mustCompileSchema(kind)
	}
}

func mustCompileSchema(kind domain.PhaseKind) compiled {
	name := string(kind) + ".schema.json"
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("missing embedded schema %s: %v", name, err))
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return compiled{raw: raw, schema: sch}
}

// Schema returns the JSON schema document for kind.
func Schema(kind domain.PhaseKind) ([]byte, error) {
	c, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return c.raw, nil
}

// Validate checks raw against the schema for kind.
func Validate(kind domain.PhaseKind, raw []byte) error {
	c, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Kind: kind, Violations: []string{"/: not valid JSON"}, Err: err}
	}
	if err := c.schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return &ValidationError{Kind: kind, Err: err}
		}
		var violations []string
		collectViolations(ve, &violations)
		return &ValidationError{Kind: kind, Violations: violations, Err: err}
	}
	return nil
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		keyword := "invalid"
		if ve.ErrorKind != nil {
			if path := ve.ErrorKind.KeywordPath(); len(path) > 0 {
				keyword = strings.Join(path, "/")
			}
		}
		*out = append(*out, loc+": "+keyword)
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}

// Decode validates raw and converts it into the typed record for kind.
func Decode(kind domain.PhaseKind, raw []byte) (domain.Record, error) {
	if err := Validate(kind, raw); err != nil {
		return nil, err
	}

	var rec domain.Record
	switch kind {
	case domain.KindDiagnosticSummary:
		rec = &domain.DiagnosticSummary{}
	case domain.KindSkillAssessment:
		rec = &domain.SkillGapAssessment{}
	case domain.KindStudyGuide:
		rec = &domain.StudyGuide{}
	case domain.KindGoals:
		rec = &domain.GoalSet{}
	case domain.KindActionPlan:
		rec = &domain.ActionPlan{}
	case domain.KindAccountabilitySetup:
		rec = &domain.AccountabilitySetup{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, &ValidationError{Kind: kind, Err: err}
	}
	return rec, nil
}

// Encode serializes a record for storage.
func Encode(rec domain.Record) (json.RawMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	return data, nil
}
