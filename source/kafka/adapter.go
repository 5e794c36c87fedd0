package kafka

import (
	"streamline/stream"
)

// Adapter is a configured Kafka reader usable as a pipeline source.
type Adapter interface {
	Configure(Config) error
	stream.Source
	Close() error
}

// Message is the item a Kafka source emits.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}
