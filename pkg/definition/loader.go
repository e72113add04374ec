package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Format is the encoding of a definitions document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Load reads, decodes and validates a definitions document from path. The
// format is taken from the file extension.
func Load(path string) (*Definitions, error) {
	format, err := formatFromPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("definitions file not found: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parserFor(format)); err != nil {
		return nil, fmt.Errorf("failed to read definitions %s: %w", path, err)
	}
	return decode(k)
}

// Parse decodes and validates a definitions document held in memory.
func Parse(data []byte, format Format) (*Definitions, error) {
	parser := parserFor(format)
	if parser == nil {
		return nil, fmt.Errorf("unsupported definitions format: %s", format)
	}
	raw, err := parser.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(raw, ""), nil); err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	return decode(k)
}

func decode(k *koanf.Koanf) (*Definitions, error) {
	var d Definitions
	if err := k.UnmarshalWithConf("", &d, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to decode definitions: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.buildIndex()
	return &d, nil
}

func formatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported definitions file format: %s", filepath.Ext(path))
	}
}

func parserFor(format Format) koanf.Parser {
	switch format {
	case FormatJSON:
		return json.Parser()
	case FormatYAML:
		return yaml.Parser()
	default:
		return nil
	}
}
