package agent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/hupe1980/orchestra/internal/util"
	"github.com/hupe1980/orchestra/model"
)

// OutputType describes the expected structured output of an agent. It
// supplies the schema sent to the model and parses and validates the raw
// output into a Go value.
type OutputType struct {
	name      string
	schema    map[string]any
	strict    bool
	validator *util.Validator
	decode    func(raw []byte) (any, error)
}

// OutputTypeOptions configure an OutputType.
type OutputTypeOptions struct {
	// Name overrides the schema name sent to the model.
	Name string
	// Strict requests strict schema adherence from backends supporting it. Defaults to true.
	Strict bool
}

// NewOutputType derives the output shape from T. Parsed outputs are values of type T.
func NewOutputType[T any](optFns ...func(o *OutputTypeOptions)) (*OutputType, error) {
	opts := OutputTypeOptions{Name: typeName[T](), Strict: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	schema, err := util.SchemaFor[T]()
	if err != nil {
		return nil, fmt.Errorf("output type %s: %w", opts.Name, err)
	}

	v, err := util.NewValidator(schema)
	if err != nil {
		return nil, fmt.Errorf("output type %s: %w", opts.Name, err)
	}

	return &OutputType{
		name:      opts.Name,
		schema:    schema,
		strict:    opts.Strict,
		validator: v,
		decode: func(raw []byte) (any, error) {
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}, nil
}

// MustOutputType is NewOutputType that panics on error.
func MustOutputType[T any](optFns ...func(o *OutputTypeOptions)) *OutputType {
	ot, err := NewOutputType[T](optFns...)
	if err != nil {
		panic(err)
	}
	return ot
}

// NewSchemaOutputType uses an explicit JSON schema. Parsed outputs are the
// generic JSON decoding of the raw output.
func NewSchemaOutputType(name string, schema map[string]any) (*OutputType, error) {
	v, err := util.NewValidator(schema)
	if err != nil {
		return nil, fmt.Errorf("output type %s: %w", name, err)
	}

	return &OutputType{
		name:      name,
		schema:    schema,
		validator: v,
		decode: func(raw []byte) (any, error) {
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}, nil
}

// Name returns the schema name.
func (o *OutputType) Name() string { return o.name }

// Schema returns the request schema sent to the model.
func (o *OutputType) Schema() *model.OutputSchema {
	return &model.OutputSchema{Name: o.name, Schema: o.schema, Strict: o.strict}
}

// Parse validates raw JSON against the schema and decodes it. It never
// coerces: any mismatch is returned as an error.
func (o *OutputType) Parse(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty output")
	}

	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}

	if err := o.validator.Validate(doc); err != nil {
		return nil, err
	}

	return o.decode([]byte(trimmed))
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n := t.Name(); n != "" {
		return util.SnakeCase(n)
	}
	return "output"
}
