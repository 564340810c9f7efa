package pairing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/erazemk/armory/internal/model"
)

// Registry is the fixed set of pairing rules in force.
type Registry struct {
	rules []Rule
}

// NewRegistry returns a registry of rules.
func NewRegistry(rules ...Rule) *Registry {
	return &Registry{rules: rules}
}

// Rules returns the registered rules in evaluation order.
func (r *Registry) Rules() []Rule {
	return r.rules
}

// Validate checks every rule. It is run once at startup.
func (r *Registry) Validate() error {
	if len(r.rules) == 0 {
		return errors.New("no pairing rules registered")
	}
	var errs []error
	for _, rule := range r.rules {
		if err := rule.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config is the on-disk form of the registry.
type Config struct {
	Twins   []TwinConfig   `yaml:"twins"`
	NVGBeam *NVGBeamConfig `yaml:"nvg_beam"`
}

// TwinConfig configures one TwinRule.
type TwinConfig struct {
	Category string   `yaml:"category"`
	Types    []string `yaml:"types"`
}

// NVGBeamConfig configures the NVGBeamRule. Pairs maps device type to beam
// serial prefix.
type NVGBeamConfig struct {
	Category string            `yaml:"category"`
	Pairs    map[string]string `yaml:"pairs"`
}

// DefaultConfig is used when no rules file is given.
func DefaultConfig() Config {
	return Config{
		Twins: []TwinConfig{{
			Category: string(model.CategoryWeapon),
			Types:    []string{"Glock 17", "Glock 19"},
		}},
		NVGBeam: &NVGBeamConfig{
			Category: string(model.CategoryGear),
			Pairs: map[string]string{
				"PVS-14": "PEQ-",
				"PVS-31": "NGAL-",
			},
		},
	}
}

// Registry builds the rules described by c.
func (c Config) Registry() *Registry {
	var rules []Rule
	for _, t := range c.Twins {
		rules = append(rules, TwinRule{Category: model.Category(t.Category), Types: t.Types})
	}
	if c.NVGBeam != nil {
		rules = append(rules, NVGBeamRule{Category: model.Category(c.NVGBeam.Category), Prefixes: c.NVGBeam.Pairs})
	}
	return NewRegistry(rules...)
}

// LoadRules reads a YAML rules file and returns a validated registry. An
// empty path yields the defaults.
func LoadRules(path string) (*Registry, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading pairing rules: %w", err)
		}
		cfg = Config{}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing pairing rules: %w", err)
		}
	}

	reg := cfg.Registry()
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("validating pairing rules: %w", err)
	}
	return reg, nil
}
