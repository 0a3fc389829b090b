package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func Marshal(cfg RuleConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Unmarshal overlays a stored document on the defaults and validates the result.
func Unmarshal(data []byte) (RuleConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RuleConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return cfg, nil
}
