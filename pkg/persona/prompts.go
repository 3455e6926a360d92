package persona

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptOverride replaces parts of a persona's prompt. Empty fields keep the
// built-in value.
type PromptOverride struct {
	Instructions string `yaml:"instructions"`
	Greeting     string `yaml:"greeting"`
	Voice        string `yaml:"voice"`
}

type promptsFile struct {
	Personas map[string]PromptOverride `yaml:"personas"`
}

// LoadPromptOverrides reads a prompts.yaml file of the form
//
//	personas:
//	  barista:
//	    greeting: "Hi, welcome to MoonBrew!"
//
// A missing file yields no overrides.
func LoadPromptOverrides(path string) (map[string]PromptOverride, error) {
	if path == "" {
		return map[string]PromptOverride{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]PromptOverride{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var file promptsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	if file.Personas == nil {
		return map[string]PromptOverride{}, nil
	}
	return file.Personas, nil
}
