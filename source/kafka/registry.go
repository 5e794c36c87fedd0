package kafka

import (
	"fmt"

	"streamline/stream"
)

// Factory builds an Adapter.
type Factory func() Adapter

var registry = map[string]Factory{
	"sarama": func() Adapter { return &SaramaDriver{} },
}

// Register adds a driver under name.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a driver by name; an empty name means "sarama".
func NewAdapter(name string) (Adapter, error) {
	if name == "" {
		name = "sarama"
	}
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported driver %q", name)
}

// Open builds and configures a driver and wraps it as a source stage. The
// adapter is returned so the caller can Close it.
func Open(driver string, cfg Config) (*stream.Stage, Adapter, error) {
	a, err := NewAdapter(driver)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Configure(cfg); err != nil {
		return nil, nil, err
	}
	return stream.NewSource(a, stream.WithName("kafka")), a, nil
}
