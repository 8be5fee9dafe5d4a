package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors aggregates every violation found in one document.
type ValidationErrors []*ValidationError

// Error joins the individual messages.
func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// SchemaFor infers a JSON schema for T and returns it as a generic map, the
// form sent to model providers.
func SchemaFor[T any]() (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}

	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	return m, nil
}

// Validator checks documents against a compiled JSON schema.
// The zero value and validators built from an empty schema accept everything.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schema.
func NewValidator(schema map[string]any) (*Validator, error) {
	if len(schema) == 0 {
		return &Validator{}, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// Validate returns ValidationErrors when doc violates the schema.
func (v *Validator) Validate(doc any) error {
	if v == nil || v.schema == nil {
		return nil
	}

	res, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}

	if res.Valid() {
		return nil
	}

	errs := make(ValidationErrors, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		errs = append(errs, &ValidationError{
			Field:   re.Field(),
			Value:   re.Value(),
			Message: re.Description(),
		})
	}

	return errs
}

// ValidateParameters validates parameters against a JSON schema in one step.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	v, err := NewValidator(schema)
	if err != nil {
		return err
	}
	return v.Validate(params)
}
