package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("catalog.schema.json", bytes.NewReader([]byte(schemaJSON))); err != nil {
			schemaErr = fmt.Errorf("add catalog schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("catalog.schema.json")
	})
	return schema, schemaErr
}

// file is the on-disk YAML layout.
type file struct {
	Policies   []Policy   `yaml:"policies" json:"policies"`
	Ideologies []Ideology `yaml:"ideologies" json:"ideologies"`
}

// LoadFile reads and validates a YAML catalog.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse validates YAML catalog bytes against the catalog schema and builds a
// Catalog from them.
func Parse(raw []byte) (*Catalog, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}

	// The validator wants encoding/json shaped values.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert catalog: %w", err)
	}
	var generic any
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return nil, fmt.Errorf("convert catalog: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(generic); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Policies, f.Ideologies)
}

// WriteYAML encodes the catalog in the layout LoadFile reads.
func WriteYAML(w io.Writer, c *Catalog) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file{Policies: c.Policies(), Ideologies: c.Ideologies()}); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return enc.Close()
}
