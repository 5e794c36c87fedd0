package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"streamline/internal/spec"
)

const SupportedSchema = "v1"

var ErrInvalidPipeline = errors.New("invalid pipeline")

// LoadPipelineSpec parses a pipeline YAML, validates schema_version and the
// overall shape, and resolves file references relative to the pipeline.
func LoadPipelineSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if err := Validate(&cfg); err != nil {
		return cfg, err
	}

	base := filepath.Dir(path)
	for i := range cfg.Sources {
		cfg.Sources[i].Config = resolve(base, cfg.Sources[i].Config)
	}
	for i := range cfg.Stages {
		cfg.Stages[i].Rules = resolve(base, cfg.Stages[i].Rules)
	}
	if cfg.Broker != nil {
		cfg.Broker.Config = resolve(base, cfg.Broker.Config)
	}
	return cfg, nil
}

// Validate checks a pipeline description and names unnamed sinks after
// their type.
func Validate(cfg *spec.File) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("%w: no sources", ErrInvalidPipeline)
	}
	for i, s := range cfg.Sources {
		if s.Type == "" {
			return fmt.Errorf("%w: source %d has no type", ErrInvalidPipeline, i)
		}
	}
	for i, s := range cfg.Stages {
		if s.Type == "" {
			return fmt.Errorf("%w: stage %d has no type", ErrInvalidPipeline, i)
		}
	}
	names := map[string]bool{}
	for i, s := range cfg.Sinks {
		if s.Name == "" {
			cfg.Sinks[i].Name = s.Type
		}
		if names[cfg.Sinks[i].Name] {
			return fmt.Errorf("%w: duplicate sink %q", ErrInvalidPipeline, cfg.Sinks[i].Name)
		}
		names[cfg.Sinks[i].Name] = true
	}
	if cfg.Failures != "" && !names[cfg.Failures] {
		return fmt.Errorf("%w: failures sink %q is not declared", ErrInvalidPipeline, cfg.Failures)
	}
	if cfg.Broker != nil && cfg.Broker.Topic == "" {
		return fmt.Errorf("%w: broker needs a topic", ErrInvalidPipeline)
	}
	return nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
