package config

import (
	"streamline/broker"
	"streamline/source/kafka"
)

// LoadKafkaConfig and LoadBrokerConfig keep every loader entrypoint under
// internal/config; the koanf logic lives next to the component it configures.
func LoadKafkaConfig(path string) (kafka.Config, error) {
	return kafka.LoadConfig(path)
}

func LoadBrokerConfig(path string) (broker.Config, error) {
	return broker.LoadConfig(path)
}
