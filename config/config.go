// Package config loads the versioned test configuration and the known
// flaky list.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/perfgo/perfshard/model"
)

// Version is the only configuration version this build understands.
const Version = 1

// File is the on-disk layout of a test configuration. JSON is accepted as
// well since it is a subset of YAML.
type File struct {
	Version *int            `yaml:"version"`
	Steps   map[string]Step `yaml:"steps"`
}

// Step is one entry of the steps mapping.
type Step struct {
	Cmd              string `yaml:"cmd"`
	DeviceAffinity   *int   `yaml:"device_affinity"`
	Timeout          *int   `yaml:"timeout"` // seconds
	ArchiveOutputDir bool   `yaml:"archive_output_dir"`
	ExpectedExitCode int    `yaml:"expected_exit_code"`
}

// Load reads and validates the configuration at path.
func Load(path string) ([]*model.TestUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(&model.ConfigurationError{Reason: err.Error()})
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes a configuration and returns its units sorted by name.
func Parse(r io.Reader) ([]*model.TestUnit, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, invalid("empty configuration")
		}
		return nil, invalid("malformed configuration: %v", err)
	}

	if file.Version == nil {
		return nil, invalid("missing version")
	}
	if *file.Version != Version {
		return nil, invalid("unsupported version %d, expected %d", *file.Version, Version)
	}
	if len(file.Steps) == 0 {
		return nil, invalid("no steps defined")
	}

	units := make([]*model.TestUnit, 0, len(file.Steps))
	for name, step := range file.Steps {
		unit, err := step.unit(name)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, nil
}

func (s Step) unit(name string) (*model.TestUnit, error) {
	if name == "" {
		return nil, invalid("step with empty name")
	}
	if s.Cmd == "" {
		return nil, invalid("step %q has no cmd", name)
	}
	if _, err := template.New(name).Option("missingkey=error").Parse(s.Cmd); err != nil {
		return nil, invalid("step %q has an invalid cmd template: %v", name, err)
	}

	unit := &model.TestUnit{
		Name:             name,
		Command:          s.Cmd,
		ArchiveOutput:    s.ArchiveOutputDir,
		ExpectedExitCode: s.ExpectedExitCode,
	}
	if s.DeviceAffinity != nil {
		if *s.DeviceAffinity < 0 {
			return nil, invalid("step %q has negative device_affinity %d", name, *s.DeviceAffinity)
		}
		affinity := *s.DeviceAffinity
		unit.Affinity = &affinity
	}
	if s.Timeout != nil {
		if *s.Timeout < 0 {
			return nil, invalid("step %q has negative timeout %d", name, *s.Timeout)
		}
		unit.Timeout = time.Duration(*s.Timeout) * time.Second
	}

	return unit, nil
}

// LoadFlaky reads a list of known flaky unit names.
func LoadFlaky(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(&model.ConfigurationError{Reason: err.Error()})
	}

	var names []string
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&names); err != nil && err != io.EOF {
		return nil, invalid("malformed flaky steps file %s: %v", path, err)
	}

	flaky := make(map[string]bool, len(names))
	for _, name := range names {
		flaky[name] = true
	}
	return flaky, nil
}

func invalid(format string, args ...any) error {
	return errors.WithStack(&model.ConfigurationError{Reason: fmt.Sprintf(format, args...)})
}
