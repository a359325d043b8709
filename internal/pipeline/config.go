package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Declaration is one configured indicator instance as written in the file.
type Declaration struct {
	ID         string            `json:"id,omitempty" yaml:"id,omitempty" validate:"omitempty,max=128"`
	Indicator  string            `json:"indicator" yaml:"indicator" validate:"required"`
	Interval   string            `json:"interval,omitempty" yaml:"interval,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Mapping    map[string]string `json:"mapping" yaml:"mapping" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// File is the top-level layout of an indicator configuration. The
// securities key is the legacy name for the same list.
type File struct {
	Indicators []Declaration `json:"indicators,omitempty" yaml:"indicators,omitempty" validate:"dive"`
	Securities []Declaration `json:"securities,omitempty" yaml:"securities,omitempty" validate:"dive"`
}

// Declarations returns the configured list in file order.
func (f *File) Declarations() []Declaration {
	return append(append([]Declaration{}, f.Indicators...), f.Securities...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseConfig decodes a configuration. YAML is used when yamlFormat is set,
// JSON otherwise; JSON numbers keep their literal text.
func ParseConfig(data []byte, yamlFormat bool) ([]Declaration, error) {
	var f File
	if yamlFormat {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	decls := f.Declarations()
	if len(decls) == 0 {
		return nil, ErrEmptyConfig
	}
	return decls, nil
}

// LoadPlan reads, validates and plans the configuration at path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	decls, err := ParseConfig(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	plan, err := NewPlan(decls)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}
