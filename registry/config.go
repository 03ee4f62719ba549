package registry

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/xraph/forwarder/route"
	"github.com/xraph/forwarder/target"
	"github.com/xraph/forwarder/template"
)

// ErrInvalidConfig is returned when a configuration file cannot be decoded
// or fails validation.
var ErrInvalidConfig = errors.New("registry: invalid config")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "hookrelay://config.schema.json"

// Document is the on-disk configuration. JSON files are read through the
// YAML decoder.
type Document struct {
	Targets   []*target.Target              `json:"targets" yaml:"targets"`
	Routes    map[string]*route.Route       `json:"routes" yaml:"routes"`
	Templates map[string]*template.Template `json:"templates" yaml:"templates"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			schemaErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Parse decodes and schema-validates a YAML or JSON document.
func Parse(data []byte) (*Document, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidConfig, err)
	}
	if generic == nil {
		generic = map[string]any{}
	}

	// Round-trip through JSON so the validator sees JSON value types.
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidConfig, err)
	}
	return &doc, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadOrInit loads path, writing Default first when the file does not
// exist. created reports whether the default was written.
func LoadOrInit(path string) (doc *Document, created bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		doc = Default()
		if err := Save(path, doc); err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}
	doc, err = Load(path)
	return doc, false, err
}

// Save writes doc to path. Files ending in .json are written as indented
// JSON, everything else as YAML. Target secrets are only written to YAML.
func Save(path string, doc *Document) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("registry: encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("registry: write %s: %w", path, err)
	}
	return nil
}

// Default returns the starter configuration: a /webhook route with no
// targets plus trade and error templates.
func Default() *Document {
	return &Document{
		Targets: []*target.Target{},
		Routes: map[string]*route.Route{
			"/webhook": {
				Path:        "/webhook",
				TargetIDs:   []string{},
				Methods:     []string{"POST"},
				Description: "Default webhook route",
			},
		},
		Templates: map[string]*template.Template{
			"trade": {
				EventType:   "trade",
				Description: "Trade signal: {symbol} {operation} price: {price} amount: {amount}",
				Data: map[string]any{
					"symbol":    "{symbol}",
					"operation": "{operation}",
					"price":     "{price}",
					"amount":    "{amount}",
				},
			},
			"error": {
				EventType:   "error",
				Description: "Error: {message}",
				Data: map[string]any{
					"message": "{message}",
				},
			},
		},
	}
}
