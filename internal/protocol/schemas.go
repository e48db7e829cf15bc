package protocol

import (
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    = map[string]*jsonschema.Schema{}
)

// Base URL the embedded schemas are registered under; $refs between them are
// relative to it.
const schemaBase = "https://voxelstorm.ai/schemas/"

// Schema names shipped with the package.
const (
	SchemaLayout    = "layout.schema.json"
	SchemaSubscribe = "subscribe.schema.json"
	SchemaCmd       = "cmd.schema.json"
	SchemaFrame     = "frame.schema.json"
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	names := []string{SchemaLayout, SchemaSubscribe, SchemaCmd, SchemaFrame}
	for _, n := range names {
		f, err := schemaFS.Open("schemas/" + n)
		if err != nil {
			schemaErr = fmt.Errorf("open schema %s: %w", n, err)
			return
		}
		err = c.AddResource(schemaBase+n, f)
		f.Close()
		if err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", n, err)
			return
		}
	}
	for _, n := range names {
		s, err := c.Compile(schemaBase + n)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", n, err)
			return
		}
		schemas[n] = s
	}
}

// Schema returns a compiled schema by file name.
func Schema(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("schema %q: not found", name)
	}
	return s, nil
}

// Validate checks a decoded JSON document (as produced by json.Unmarshal into
// any) against a named schema.
func Validate(name string, doc any) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func ValidateLayout(doc any) error { return Validate(SchemaLayout, doc) }
