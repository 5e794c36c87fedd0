package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"streamline/internal/logging"
	"streamline/sink"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
}

// driver uses a synchronous producer so a batch reports exactly which
// messages failed.
type driver struct {
	cfg Config
	p   sarama.SyncProducer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if cfg.Topic == "" {
		return errors.New("kafka-sink: topic is required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	var err error
	d.p, err = sarama.NewSyncProducer(cfg.Brokers, sc)
	return err
}

func (d *driver) message(item any) (*sarama.ProducerMessage, error) {
	b, err := sink.Encode(item)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{Topic: d.cfg.Topic, Value: sarama.ByteEncoder(b)}, nil
}

func (d *driver) Emit(_ context.Context, item any) error {
	m, err := d.message(item)
	if err != nil {
		return err
	}
	part, off, err := d.p.SendMessage(m)
	if err != nil {
		return err
	}
	logging.L().Debug("kafka-sink: sent", "topic", d.cfg.Topic, "partition", part, "offset", off)
	return nil
}

func (d *driver) EmitMany(_ context.Context, items []any) error {
	failed := map[int]error{}
	msgs := make([]*sarama.ProducerMessage, 0, len(items))
	for i, it := range items {
		m, err := d.message(it)
		if err != nil {
			failed[i] = err
			continue
		}
		m.Metadata = i
		msgs = append(msgs, m)
	}

	err := d.p.SendMessages(msgs)
	var perrs sarama.ProducerErrors
	switch {
	case err == nil:
	case errors.As(err, &perrs):
		for _, pe := range perrs {
			if i, ok := pe.Msg.Metadata.(int); ok {
				failed[i] = pe.Err
			}
		}
	default:
		return err
	}
	logging.L().Info("kafka-sink: batch sent", "topic", d.cfg.Topic, "sent", len(items)-len(failed), "failed", len(failed))
	if len(failed) > 0 {
		return &sink.PartialError{Failed: failed}
	}
	return nil
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	err := d.p.Close()
	d.p = nil
	return err
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
