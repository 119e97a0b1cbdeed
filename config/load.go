package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/poiesic/vitae/core"
)

// Load reads, defaults and validates one service descriptor.
// Unknown TOML keys are rejected so a typo cannot silently disable a
// setting.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read descriptor %s: %w", core.ErrFatalConfig, path, err)
	}

	svc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return svc, nil
}

// Parse decodes a descriptor from TOML bytes, applies defaults and
// validates.
func Parse(data []byte) (*Service, error) {
	var svc Service
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&svc); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFatalConfig, err)
	}

	svc.applyDefaults()
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return &svc, nil
}

// LoadAll loads several descriptors and rejects duplicate service
// names, since one run writes one output file per service.
func LoadAll(paths ...string) ([]*Service, error) {
	services := make([]*Service, 0, len(paths))
	seen := make(map[string]string, len(paths))

	for _, path := range paths {
		svc, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prior, dup := seen[svc.Name]; dup {
			return nil, fmt.Errorf("%w: service %s declared by both %s and %s",
				core.ErrFatalConfig, svc.Name, prior, path)
		}
		seen[svc.Name] = path
		services = append(services, svc)
	}

	return services, nil
}
