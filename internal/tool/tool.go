// Package tool implements C4: tool descriptors, tool-choice resolution, the
// static/dynamic merge, and implicit-tool JSON-mode coercion.
//
// Grounded on internal/providers/base.go's Anthropic/OpenAI tool struct
// shapes in the teacher, generalized into a provider-agnostic descriptor
// that each C5 adapter renders into its own wire shape.
package tool

import (
	"encoding/json"
	"fmt"

	gwerrors "github.com/relaygate/relaygate/internal/errors"
)

// Descriptor is one tool's provider-agnostic definition.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict,omitempty"`
}

// ChoiceMode tags the tool_choice policy.
type ChoiceMode string

const (
	ChoiceNone     ChoiceMode = "none"
	ChoiceAuto     ChoiceMode = "auto"
	ChoiceRequired ChoiceMode = "required"
	ChoiceSpecific ChoiceMode = "specific"
)

// Choice is {mode} or {mode: specific, name}.
type Choice struct {
	Mode ChoiceMode
	Name string // only meaningful when Mode == ChoiceSpecific
}

// ImplicitToolName is the synthetic tool name used to coerce Json-function
// output into a tool call (spec §4.4).
const ImplicitToolName = "respond"

// Config is the merged, resolved tool configuration attached to a
// ModelInferenceRequest.
type Config struct {
	Tools       []Descriptor
	Choice      Choice
	ParallelOK  *bool // nullable tri-state: nil = provider default
}

// Merge appends dynamic tools after static tools; duplicate names are a
// fatal InvalidRequest (spec §4.4).
func Merge(static []Descriptor, dynamic []Descriptor, choice Choice, parallelOK *bool) (*Config, error) {
	seen := make(map[string]bool, len(static)+len(dynamic))
	merged := make([]Descriptor, 0, len(static)+len(dynamic))
	for _, d := range static {
		if seen[d.Name] {
			return nil, gwerrors.InvalidRequest(fmt.Sprintf("duplicate tool name in static set: %s", d.Name))
		}
		seen[d.Name] = true
		merged = append(merged, d)
	}
	for _, d := range dynamic {
		if seen[d.Name] {
			return nil, gwerrors.InvalidRequest(fmt.Sprintf("dynamic tool %q duplicates an existing tool name", d.Name))
		}
		seen[d.Name] = true
		merged = append(merged, d)
	}

	if choice.Mode == "" {
		choice.Mode = ChoiceAuto
	}
	if choice.Mode == ChoiceSpecific {
		if !seen[choice.Name] {
			return nil, gwerrors.InvalidRequest(fmt.Sprintf("tool_choice references unknown tool %q", choice.Name))
		}
	}

	return &Config{Tools: merged, Choice: choice, ParallelOK: parallelOK}, nil
}

// CoerceImplicitTool synthesizes the single "respond" tool from a Json
// function's output schema and forces tool_choice to Specific("respond"),
// per spec §4.4's ImplicitTool JSON-mode policy.
func CoerceImplicitTool(outputSchema json.RawMessage) *Config {
	return &Config{
		Tools: []Descriptor{{
			Name:        ImplicitToolName,
			Description: "Respond with the final answer matching the required JSON schema.",
			Parameters:  outputSchema,
			Strict:      true,
		}},
		Choice: Choice{Mode: ChoiceSpecific, Name: ImplicitToolName},
	}
}

// ValidateParallelSupport surfaces an error (rather than silently
// serializing calls) when the caller explicitly asked for parallel tool
// calls but the target provider doesn't support them.
func ValidateParallelSupport(cfg *Config, providerSupportsParallel bool) error {
	if cfg == nil || cfg.ParallelOK == nil {
		return nil
	}
	if *cfg.ParallelOK && !providerSupportsParallel {
		return gwerrors.InvalidProviderConfig("provider does not support parallel tool calls")
	}
	return nil
}
