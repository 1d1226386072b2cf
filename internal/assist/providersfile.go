package assist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderSpec is one static entry in the waterfall order. Name selects
// the adapter, Model optionally overrides the configured default, and
// Description records why the entry sits where it does.
type ProviderSpec struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type providersFile struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// FactoryConfig carries the per-provider connection settings used when
// turning specs into adapters.
type FactoryConfig struct {
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Ollama    OllamaConfig
}

// DefaultProviderOrder is the waterfall used when no providers file is
// configured: fastest hosted model first, the reasoning model second,
// and the local daemon as the no-credential fallback.
func DefaultProviderOrder(includeOllama bool) []ProviderSpec {
	specs := []ProviderSpec{
		{Name: "openai", Description: "fast general-purpose completion"},
		{Name: "anthropic", Description: "stronger reasoning fallback"},
	}
	if includeOllama {
		specs = append(specs, ProviderSpec{Name: "ollama", Description: "local fallback, no credential"})
	}
	return specs
}

// LoadProviderOrder reads a YAML providers file. The file replaces the
// default order entirely, so it must name at least one known provider
// and may name each at most once.
func LoadProviderOrder(path string) ([]ProviderSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var parsed providersFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	if err := validateSpecs(parsed.Providers); err != nil {
		return nil, fmt.Errorf("providers file %s: %w", path, err)
	}
	return parsed.Providers, nil
}

func validateSpecs(specs []ProviderSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		switch name {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("unknown provider %q", spec.Name)
		}
		if seen[name] {
			return fmt.Errorf("provider %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// BuildProviders turns an ordered spec list into adapters. A per-spec
// model override only replaces the configured model when set.
func BuildProviders(specs []ProviderSpec, cfg FactoryConfig) ([]Provider, error) {
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}
	providers := make([]Provider, 0, len(specs))
	for _, spec := range specs {
		switch strings.TrimSpace(spec.Name) {
		case "openai":
			pc := cfg.OpenAI
			if spec.Model != "" {
				pc.Model = spec.Model
			}
			providers = append(providers, NewOpenAIProvider(pc))
		case "anthropic":
			pc := cfg.Anthropic
			if spec.Model != "" {
				pc.Model = spec.Model
			}
			providers = append(providers, NewAnthropicProvider(pc))
		case "ollama":
			pc := cfg.Ollama
			if spec.Model != "" {
				pc.Model = spec.Model
			}
			providers = append(providers, NewOllamaProvider(pc))
		}
	}
	return providers, nil
}
