// Package schema implements C3: a static JSON Schema compiler (compiled once
// at config-load time, fatal on failure) and a dynamic schema wrapper whose
// compilation is kicked off eagerly but awaited lazily on first use, per the
// single-shot initialization primitive called for in spec.md §9 (no
// leaked-'static-reference pattern; compiled schemas live in the owning
// Validator/DynamicValidator values themselves).
//
// Grounded on the availability of github.com/santhosh-tekuri/jsonschema/v5
// in _examples/haasonsaas-nexus — no schema validation exists in the
// teacher, so this package is new code built around that library.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Validator wraps a schema compiled once, synchronously, at load time.
type Validator struct {
	raw    json.RawMessage
	schema *jsonschema.Schema
}

// CompileStatic compiles schema at config-load time. Failure is fatal to
// configuration load per spec §4.3 and is returned as a *errors.GatewayError
// of kind JsonSchema so the caller can abort startup with context.
func CompileStatic(name string, raw json.RawMessage) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytesReader(raw)); err != nil {
		return nil, gwerrors.JSONSchema(fmt.Sprintf("add schema resource %q: %v", name, err)).Wrap(err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, gwerrors.JSONSchema(fmt.Sprintf("compile schema %q: %v", name, err)).Wrap(err)
	}
	return &Validator{raw: raw, schema: compiled}, nil
}

// Validate checks instance (already decoded into Go values via
// encoding/json) against the compiled schema.
func (v *Validator) Validate(instance any) error {
	if err := v.schema.Validate(instance); err != nil {
		return toValidationError(instance, v.raw, err)
	}
	return nil
}

// Raw returns the schema's original JSON, used when building
// ModelInferenceRequest.output_schema payloads for providers.
func (v *Validator) Raw() json.RawMessage { return v.raw }

// compileResult is the single-shot cell's terminal state: either a compiled
// schema or a permanent compilation error, cached forever once set.
type compileResult struct {
	schema *jsonschema.Schema
	err    error
}

// DynamicValidator is constructed per request from a JSON schema value.
// Compilation starts immediately in a background goroutine; the first call
// to Validate blocks on a channel-backed one-shot cell, subsequent calls
// reuse the cached result (compiled schema, or the cached compilation
// error replayed on every call, per spec §4.3).
type DynamicValidator struct {
	raw  json.RawMessage
	done chan struct{}
	res  compileResult
}

// NewDynamicValidator seeds the background compile on construction.
func NewDynamicValidator(raw json.RawMessage) *DynamicValidator {
	d := &DynamicValidator{raw: raw, done: make(chan struct{})}
	go d.compile()
	return d
}

func (d *DynamicValidator) compile() {
	defer close(d.done)
	compiler := jsonschema.NewCompiler()
	const name = "dynamic.json"
	if err := compiler.AddResource(name, bytesReader(d.raw)); err != nil {
		d.res = compileResult{err: gwerrors.DynamicJSONSchema(fmt.Sprintf("add dynamic schema resource: %v", err)).Wrap(err)}
		return
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		d.res = compileResult{err: gwerrors.DynamicJSONSchema(fmt.Sprintf("compile dynamic schema: %v", err)).Wrap(err)}
		return
	}
	d.res = compileResult{schema: compiled}
}

// Validate awaits the background compile exactly once (subsequent calls see
// the channel already closed and return immediately) then validates, or
// replays the cached compilation error forever.
func (d *DynamicValidator) Validate(instance any) error {
	<-d.done
	if d.res.err != nil {
		return d.res.err
	}
	if err := d.res.schema.Validate(instance); err != nil {
		return toValidationError(instance, d.raw, err)
	}
	return nil
}

func toValidationError(instance any, schema json.RawMessage, err error) error {
	messages := []string{err.Error()}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		messages = nil
		for _, cause := range ve.Causes {
			messages = append(messages, cause.Error())
		}
		if len(messages) == 0 {
			messages = []string{ve.Error()}
		}
	}
	return gwerrors.JSONSchemaValidation(instance, schema, messages)
}

func bytesReader(b json.RawMessage) io.Reader { return bytes.NewReader(b) }
