package baseconfig

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// File is the decoded form of a base configuration document.
type File struct {
	Namespaces    map[string]string            `yaml:"namespaces"`
	Pipeline      string                       `yaml:"pipeline"`
	Inputs        map[string][]Input           `yaml:"inputs"`
	Outputs       map[string]string            `yaml:"outputs"`
	Parameters    map[string]map[string]string `yaml:"parameters"`
	Options       map[string]string            `yaml:"options"`
	Serialization map[string]string            `yaml:"serialization"`
}

// Input is one document bound to an input port. Exactly one of Href and
// Inline is set.
type Input struct {
	Href        string `yaml:"href"`
	Inline      string `yaml:"inline"`
	Data        bool   `yaml:"data"`
	ContentType string `yaml:"content-type"`
}

// Decode reads a configuration document. An empty document yields an empty File.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("decode base configuration: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	for port, inputs := range f.Inputs {
		for i, in := range inputs {
			switch {
			case in.Href == "" && in.Inline == "":
				return fmt.Errorf("input %q #%d: href or inline is required", port, i+1)
			case in.Href != "" && in.Inline != "":
				return fmt.Errorf("input %q #%d: href and inline are mutually exclusive", port, i+1)
			}
		}
	}
	for prefix, uri := range f.Namespaces {
		if prefix == "" || uri == "" {
			return fmt.Errorf("namespace binding %q=%q is incomplete", prefix, uri)
		}
	}
	return nil
}
