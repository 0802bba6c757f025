package database

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Registry enumerates the logical databases of a deployment
type Registry struct {
	connections []Connection
}

// NewRegistry builds a registry, keeping the primary database first and the
// remaining connections in the given order
func NewRegistry(connections []Connection) *Registry {
	ordered := make([]Connection, 0, len(connections))
	for _, c := range connections {
		if c.IsPrimary() {
			ordered = append(ordered, c)
		}
	}
	for _, c := range connections {
		if !c.IsPrimary() {
			ordered = append(ordered, c)
		}
	}
	return &Registry{connections: ordered}
}

// Each returns every non-shared connection in stable order
func (r *Registry) Each() []Connection {
	var out []Connection
	for _, c := range r.connections {
		if c.IsShared() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// MultipleDatabases reports whether more than one database has its own storage
func (r *Registry) MultipleDatabases() bool {
	return len(r.Each()) > 1
}

// LoadFile reads a database.yml style file
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read database config: %w", err)
	}
	return Parse(data)
}

// Parse decodes database.yml content. Top-level keys are logical database
// names; document order is preserved.
func Parse(data []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("database config is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("database config must be a mapping of database names")
	}

	validate := validator.New()
	var connections []Connection
	seenPrimary := false

	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value

		var cfg Configuration
		if err := root.Content[i+1].Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode database %q: %w", name, err)
		}
		if err := validate.Struct(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for database %q: %w", name, err)
		}

		if name == PrimaryName {
			seenPrimary = true
		}
		connections = append(connections, Connection{Name: name, Config: cfg})
	}

	if !seenPrimary {
		return nil, fmt.Errorf("database config has no %q database", PrimaryName)
	}

	return NewRegistry(connections), nil
}
