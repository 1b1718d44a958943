package config

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelFiles embed.FS

// ModelProfile describes the generation options used for one model.
type ModelProfile struct {
	ID              string  `yaml:"id"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`
	MaxToolRounds   int     `yaml:"max_tool_rounds"`
}

type modelRegistry struct {
	Models []ModelProfile `yaml:"models"`
}

// LoadModelProfile returns the profile for the given model ID from the
// embedded registry. Unknown models fall back to the default profile so a
// freshly released model name does not require a rebuild.
func LoadModelProfile(model string) (*ModelProfile, error) {
	data, err := modelFiles.ReadFile("models.yaml")
	if err != nil {
		return nil, fmt.Errorf("read model registry: %w", err)
	}

	var registry modelRegistry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("unmarshal model registry: %w", err)
	}

	for i := range registry.Models {
		if registry.Models[i].ID == model {
			return &registry.Models[i], nil
		}
	}

	return &ModelProfile{
		ID:              model,
		MaxOutputTokens: 1024,
		Temperature:     0.7,
		MaxToolRounds:   8,
	}, nil
}
