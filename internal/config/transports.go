package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport descriptor types.
const (
	TransportPopen = "popen"
	TransportSudo  = "sudo"
	TransportSSH   = "ssh"
)

// TransportDescriptor is one entry of the transports file: a YAML array
// of descriptors with type-specific fields. An absent active field
// means active.
type TransportDescriptor struct {
	Active *bool  `yaml:"active"`
	Type   string `yaml:"type"`
	Script string `yaml:"script"`
	User   string `yaml:"user"`
	Group  string `yaml:"group"`
	Host   string `yaml:"host"`
}

// IsActive reports whether the descriptor should be used.
func (d TransportDescriptor) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Validate checks the type-specific required fields.
func (d TransportDescriptor) Validate() error {
	switch d.Type {
	case TransportPopen:
		if d.Script == "" {
			return fmt.Errorf("popen transport needs a script")
		}
	case TransportSudo:
		if d.Script == "" || d.User == "" || d.Group == "" {
			return fmt.Errorf("sudo transport needs script, user and group")
		}
	case TransportSSH:
		if d.User == "" || d.Host == "" {
			return fmt.Errorf("ssh transport needs user and host")
		}
	default:
		return fmt.Errorf("unknown transport type %q", d.Type)
	}
	return nil
}

// LoadTransports reads and validates the transports file, returning the
// active descriptors only.
func LoadTransports(path string) ([]TransportDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transports file: %w", err)
	}

	var all []TransportDescriptor
	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse transports file %s: %w", path, err)
	}

	var active []TransportDescriptor
	for i, d := range all {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("transports file %s entry %d: %w", path, i, err)
		}
		if d.IsActive() {
			active = append(active, d)
		}
	}

	if len(active) == 0 {
		return nil, ErrNoActiveTransports
	}

	return active, nil
}
