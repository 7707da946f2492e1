package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file encoding.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// FormatFor picks the format from a file name.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// LoadError reports a configuration file that could not be read or
// decoded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data, applies defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, &LoadError{Message: "failed to parse TOML", Cause: err}
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, &LoadError{Message: fmt.Sprintf("unknown key %q", undecoded[0].String())}
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes cfg in format.
func Marshal(cfg *Config, format Format) ([]byte, error) {
	if format == FormatTOML {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return yaml.Marshal(cfg)
}
