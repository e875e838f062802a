package agent

import (
	"github.com/vk/tradegrid/internal/registry"
)

// DefaultTemperature is used when a stage declares no temperature option.
const DefaultTemperature = 0.1

// PersonaOptions are the stage options every LLM-backed kind accepts.
var PersonaOptions = []string{"model", "temperature"}

// FromSpec builds a persona for role, reading model and temperature from the
// stage's options. An empty model lets the client pick its default.
func FromSpec(spec registry.Spec, role, instructions string) (Persona, error) {
	model, err := spec.String("model", "")
	if err != nil {
		return Persona{}, err
	}
	temp, err := spec.Float("temperature", DefaultTemperature)
	if err != nil {
		return Persona{}, err
	}
	return Persona{Role: role, Instructions: instructions, Model: model, Temperature: temp}, nil
}
