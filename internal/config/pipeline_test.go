package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadPipelineSpec_ResolvesRelativePathsAndSchema(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "pipeline.yml", `schema_version: v1
sources:
  - type: kafka
    driver: sarama
    config: kafka_source.yml
  - type: tail
    path: /var/log/app.log
    wait: 500ms
stages:
  - type: parser
    rules: rules/nginx.yml
    rule: access
  - type: filter
    where:
      - {field: status, op: ">=", value: 500}
sinks:
  - type: stdout
    batch: 10
    timeout: 2s
    config: {print_counter: true}
failures: stdout
broker:
  config: broker.yml
  topic: access
`)

	cfg, err := LoadPipelineSpec(path)
	require.NoError(t, err)
	assert.Equal(t, SupportedSchema, cfg.SchemaVersion)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, filepath.Join(dir, "kafka_source.yml"), cfg.Sources[0].Config)
	assert.Equal(t, 500*time.Millisecond, cfg.Sources[1].Wait)
	assert.Equal(t, filepath.Join(dir, "rules", "nginx.yml"), cfg.Stages[0].Rules)
	require.Len(t, cfg.Stages[1].Where, 1)
	assert.Equal(t, "status", cfg.Stages[1].Where[0].Field)
	assert.Equal(t, "stdout", cfg.Sinks[0].Name, "name defaults to type")
	assert.Equal(t, 2*time.Second, cfg.Sinks[0].Timeout)
	assert.Equal(t, filepath.Join(dir, "broker.yml"), cfg.Broker.Config)
}

func TestLoadPipelineSpec_InvalidSchema(t *testing.T) {
	path := write(t, t.TempDir(), "pipeline.yml", `schema_version: v999
sources: [{type: memory}]
`)
	_, err := LoadPipelineSpec(path)
	require.Error(t, err)
}

func TestLoadPipelineSpec_Validation(t *testing.T) {
	cases := map[string]string{
		"no sources":       `sinks: [{type: stdout}]`,
		"untyped source":   `sources: [{path: /x}]`,
		"untyped stage":    "sources: [{type: memory}]\nstages: [{name: x}]",
		"duplicate sink":   "sources: [{type: memory}]\nsinks: [{type: stdout}, {type: stdout}]",
		"unknown failures": "sources: [{type: memory}]\nsinks: [{type: stdout}]\nfailures: dlq",
		"broker w/o topic": "sources: [{type: memory}]\nbroker: {config: b.yml}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPipelineSpec(write(t, t.TempDir(), "p.yml", body))
			require.ErrorIs(t, err, ErrInvalidPipeline)
		})
	}
}
