package spec

import (
	"time"

	"gopkg.in/yaml.v3"

	"streamline/predicate"
)

// FilterSpec configures a dedup filter.
type FilterSpec struct {
	Kind      string  `yaml:"kind"` // bloom|max
	Path      string  `yaml:"path"` // empty keeps it in memory
	Capacity  uint    `yaml:"capacity"`
	ErrorRate float64 `yaml:"error_rate"`
	Numeric   bool    `yaml:"numeric"`
}

// SourceSpec is one pipeline source. Which fields apply depends on Type.
type SourceSpec struct {
	Type string `yaml:"type"` // tail|file|csv|socket|memory|sql|kafka|broker
	Name string `yaml:"name"`

	Path    string        `yaml:"path"`    // tail
	Pattern string        `yaml:"pattern"` // file, csv
	Addr    string        `yaml:"addr"`    // socket, broker
	Wait    time.Duration `yaml:"wait"`

	StartLine int   `yaml:"start_line"` // tail
	Position  int64 `yaml:"position"`   // tail
	Times     int   `yaml:"times"`      // tail: idle polls before checking rotation

	Filter      *FilterSpec   `yaml:"filter"`       // file, csv
	ConfirmWait time.Duration `yaml:"confirm_wait"` // file, csv
	Delimiter   string        `yaml:"delimiter"`    // csv

	Items []any `yaml:"items"` // memory

	Driver string `yaml:"driver"` // sql (database/sql driver), kafka (adapter)
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
	Limit  int    `yaml:"limit"`

	Config string `yaml:"config"` // kafka: koanf YAML, relative to the pipeline file

	Topic   string `yaml:"topic"`   // broker
	Segment *int   `yaml:"segment"` // broker: resume point
	Offset  int64  `yaml:"offset"`
}

// StageSpec is one transform stage. Which fields apply depends on Type.
type StageSpec struct {
	Type      string `yaml:"type"`
	Name      string `yaml:"name"`
	Propagate bool   `yaml:"propagate_errors"`

	Rules string `yaml:"rules"` // parser: rule file
	Rule  string `yaml:"rule"`  // parser: rule name in that file
	Trace bool   `yaml:"trace"`

	Where []predicate.Spec `yaml:"where"` // filter

	Size    int           `yaml:"size"` // group, queue batch size
	Timeout time.Duration `yaml:"timeout"`

	Key     string `yaml:"key"` // sort, dedup: record field
	Numeric bool   `yaml:"numeric"`
	Desc    bool   `yaml:"desc"`
	MaxLen  int    `yaml:"max_len"`
	MaxSize int    `yaml:"max_size"`
	Dir     string `yaml:"dir"`

	Charset string `yaml:"charset"` // encode, decode

	Capacity int           `yaml:"capacity"` // queue
	Wait     time.Duration `yaml:"wait"`

	Filter *FilterSpec `yaml:"filter"` // dedup
}

// SinkSpec is one output. Config is decoded into the driver's own config.
type SinkSpec struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"` // stdout|file|kafka|nats|http|null
	Batch   int           `yaml:"batch"`
	Timeout time.Duration `yaml:"timeout"`
	Config  yaml.Node     `yaml:"config"`
}

// BrokerSpec runs an embedded broker fed by the pipeline.
type BrokerSpec struct {
	Config string `yaml:"config"` // koanf YAML, relative to the pipeline file
	Topic  string `yaml:"topic"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	// Several sources are interleaved round-robin.
	Sources []SourceSpec `yaml:"sources"`
	Stages  []StageSpec  `yaml:"stages"`
	Sinks   []SinkSpec   `yaml:"sinks"`

	// Failures names the sink that receives undelivered-item records. When
	// empty they are only logged.
	Failures string `yaml:"failures"`

	Broker *BrokerSpec `yaml:"broker"`
}
