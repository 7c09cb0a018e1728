package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is the on-disk shape of a registry seed file.
type Seed struct {
	Tools  []Descriptor `yaml:"tools"`
	Skills []Descriptor `yaml:"skills"`
}

func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse registry seed: %w", err)
	}
	for i, descriptor := range seed.Tools {
		if strings.TrimSpace(descriptor.Name) == "" {
			return Seed{}, fmt.Errorf("registry seed tools[%d]: %w", i, ErrNameRequired)
		}
	}
	for i, descriptor := range seed.Skills {
		if strings.TrimSpace(descriptor.Name) == "" {
			return Seed{}, fmt.Errorf("registry seed skills[%d]: %w", i, ErrNameRequired)
		}
	}
	return seed, nil
}

// LoadSeedFile upserts every entry of the YAML file at path. Entries are
// validated first so a bad file changes nothing. Runtime registrations not
// named in the file are kept.
func (r *Registry) LoadSeedFile(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("registry seed path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read registry seed %q: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}
	return r.Apply(seed)
}

func (r *Registry) Apply(seed Seed) (int, error) {
	applied := 0
	for _, descriptor := range seed.Tools {
		if _, err := r.Upsert(KindTool, descriptor); err != nil {
			return applied, err
		}
		applied++
	}
	for _, descriptor := range seed.Skills {
		if _, err := r.Upsert(KindSkill, descriptor); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
