package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"streamline/internal/logging"
	"streamline/stream"
)

type delivery struct {
	msg  *sarama.ConsumerMessage
	sess sarama.ConsumerGroupSession
}

// SaramaDriver consumes a topic set as a consumer group. Messages are
// fetched ahead into a bounded channel; a full channel stalls the claim
// goroutines until the pipeline catches up.
type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
}

func (d *SaramaDriver) Configure(config Config) error {
	applyDefaults(&config)
	d.cfg = config

	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = config.CommitInterval
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(config.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) Events(ctx context.Context) stream.Seq {
	return func(yield func(stream.Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch := make(chan delivery, d.cfg.Buffer)
		errc := make(chan error, 1)
		go func() { errc <- d.consume(ctx, ch) }()
		go d.logErrors(ctx)

		timer := time.NewTimer(d.cfg.Wait)
		defer timer.Stop()
		for {
			timer.Reset(d.cfg.Wait)
			select {
			case dl := <-ch:
				if d.cfg.EOF != "" && string(dl.msg.Value) == d.cfg.EOF {
					dl.sess.MarkMessage(dl.msg, "")
					return
				}
				if d.cfg.CommitMode == CommitAuto {
					dl.sess.MarkMessage(dl.msg, "")
				}
				m := dl.msg
				if !yield(stream.Of(Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset, Key: m.Key, Value: m.Value}), nil) {
					return
				}
				// The pull returned, so every stage is done with m.
				if d.cfg.CommitMode == CommitE2E {
					dl.sess.MarkMessage(m, "")
				}
			case <-timer.C:
				if !yield(stream.SignalEvent(stream.Idle), nil) {
					return
				}
			case err := <-errc:
				if err != nil && ctx.Err() == nil {
					yield(stream.Event{}, err)
				}
				return
			case <-ctx.Done():
				yield(stream.Event{}, ctx.Err())
				return
			}
		}
	}
}

func (d *SaramaDriver) consume(ctx context.Context, ch chan<- delivery) error {
	h := &groupHandler{out: ch}
	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (d *SaramaDriver) logErrors(ctx context.Context) {
	errs := d.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.L().Error("kafka consumer error", "topics", d.cfg.Topics, "err", err)
		}
	}
}

func (d *SaramaDriver) Close() error {
	var err error
	if d.group != nil {
		err = d.group.Close()
	}
	if d.cl != nil && !d.cl.Closed() {
		err = errors.Join(err, d.cl.Close())
	}
	return err
}

type groupHandler struct {
	out chan<- delivery
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (*groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	logging.L().Info("kafka session ended", "member", sess.MemberID(), "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.out <- delivery{msg: msg, sess: sess}:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}
