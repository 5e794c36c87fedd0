package pipeline

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"streamline/broker"
	"streamline/internal/config"
	"streamline/internal/dedup"
	"streamline/internal/spec"
	"streamline/predicate"
	"streamline/rule"
	"streamline/sink"
	sinkfile "streamline/sink/file"
	sinkhttp "streamline/sink/http"
	sinkkafka "streamline/sink/kafka"
	sinknats "streamline/sink/nats"
	"streamline/sink/stdout"
	"streamline/source"
	"streamline/source/kafka"
	"streamline/stream"
)

var ErrUnknownType = errors.New("pipeline: unknown type")

// build collects what compiling opened so the runner can close it.
type build struct {
	closers []io.Closer
}

type sourceFunc func(b *build, s spec.SourceSpec) (*stream.Stage, error)

type stageFunc func(s spec.StageSpec) (*stream.Stage, error)

// sinkConfigs decodes a sink's YAML config into its driver's Config.
var sinkConfigs = map[string]func(n *yaml.Node) (any, error){
	"stdout": decodeInto[stdout.Config],
	"file":   decodeInto[sinkfile.Config],
	"kafka":  decodeInto[sinkkafka.Config],
	"nats":   decodeInto[sinknats.Config],
	"http":   decodeInto[sinkhttp.Config],
	"null":   func(*yaml.Node) (any, error) { return nil, nil },
}

var sources = map[string]sourceFunc{
	"tail": func(_ *build, s spec.SourceSpec) (*stream.Stage, error) {
		return source.Tail(s.Path, source.TailOptions{
			Wait: s.Wait, Times: s.Times, StartLine: s.StartLine, Position: s.Position,
		})
	},
	"file": func(_ *build, s spec.SourceSpec) (*stream.Stage, error) {
		opts, err := fileOptions(s)
		if err != nil {
			return nil, err
		}
		return source.File(s.Pattern, opts)
	},
	"csv": func(_ *build, s spec.SourceSpec) (*stream.Stage, error) {
		opts, err := fileOptions(s)
		if err != nil {
			return nil, err
		}
		var configure func(*csv.Reader)
		if s.Delimiter != "" {
			r, _ := utf8.DecodeRuneInString(s.Delimiter)
			configure = func(cr *csv.Reader) { cr.Comma = r }
		}
		return source.Csv(s.Pattern, opts, configure)
	},
	"socket": func(_ *build, s spec.SourceSpec) (*stream.Stage, error) {
		return source.Socket(s.Addr, s.Wait), nil
	},
	"memory": func(_ *build, s spec.SourceSpec) (*stream.Stage, error) {
		return source.Memory(s.Items...), nil
	},
	"sql": func(b *build, s spec.SourceSpec) (*stream.Stage, error) {
		db, err := sql.Open(s.Driver, s.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db)
		return source.SQL(db, s.Query, s.Limit), nil
	},
	"kafka": func(b *build, s spec.SourceSpec) (*stream.Stage, error) {
		kc, err := config.LoadKafkaConfig(s.Config)
		if err != nil {
			return nil, err
		}
		st, a, err := kafka.Open(s.Driver, kc)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, a)
		return st, nil
	},
	"broker": func(_ *build, s spec.SourceSpec) (*stream.Stage, error) {
		opts := broker.ConsumerOptions{Wait: s.Wait}
		if s.Segment != nil {
			opts.From = &broker.Cursor{Segment: *s.Segment, Offset: s.Offset}
		}
		st, err := broker.Consume(s.Addr, s.Topic, opts)
		if err != nil {
			return nil, err
		}
		return st.Then(stream.Map(payload)), nil
	},
}

var stages = map[string]stageFunc{
	"parser": func(s spec.StageSpec) (*stream.Stage, error) {
		r, err := rule.LoadFile(s.Rules, s.Rule)
		if err != nil {
			return nil, err
		}
		p, err := rule.Compile(r)
		if err != nil {
			return nil, err
		}
		return stream.Parser(p, s.Trace, options(s)...), nil
	},
	"filter": func(s spec.StageSpec) (*stream.Stage, error) {
		e, err := predicate.Build(s.Where...)
		if err != nil {
			return nil, err
		}
		return stream.Filter(e), nil
	},
	"group": func(s spec.StageSpec) (*stream.Stage, error) {
		return stream.Group(s.Size, s.Timeout, options(s)...), nil
	},
	"sort": func(s spec.StageSpec) (*stream.Stage, error) {
		opts := stream.SortOptions{Desc: s.Desc, MaxLen: s.MaxLen, MaxSize: s.MaxSize, Dir: s.Dir}
		if s.Key != "" {
			opts.Codec = stream.JSONCodec{}
		}
		if s.Numeric {
			return stream.Sort(numberKey(s.Key), opts, options(s)...), nil
		}
		return stream.Sort(textKey(s.Key), opts, options(s)...), nil
	},
	"dedup": func(s spec.StageSpec) (*stream.Stage, error) {
		f, err := newFilter(s.Filter)
		if err != nil {
			return nil, err
		}
		return stream.Dedup(f, textKey(s.Key), options(s)...), nil
	},
	"queue": func(s spec.StageSpec) (*stream.Stage, error) {
		return stream.Queue(stream.QueueOptions{
			Batch: s.Size, Timeout: s.Timeout, Size: s.Capacity, Wait: s.Wait,
		}, options(s)...), nil
	},
	"json_encode":    simple(stream.JSONEncode),
	"json_decode":    simple(stream.JSONDecode),
	"msgpack_encode": simple(stream.MsgpackEncode),
	"msgpack_decode": simple(stream.MsgpackDecode),
	"gzip":           simple(stream.Gzip),
	"gunzip":         simple(stream.Gunzip),
	"encode": func(s spec.StageSpec) (*stream.Stage, error) {
		return stream.Encode(s.Charset, options(s)...)
	},
	"decode": func(s spec.StageSpec) (*stream.Stage, error) {
		return stream.Decode(s.Charset, options(s)...)
	},
}

func simple(fn func(...stream.Option) *stream.Stage) stageFunc {
	return func(s spec.StageSpec) (*stream.Stage, error) { return fn(options(s)...), nil }
}

func options(s spec.StageSpec) []stream.Option {
	var opts []stream.Option
	if s.Name != "" {
		opts = append(opts, stream.WithName(s.Name))
	}
	if s.Propagate {
		opts = append(opts, stream.PropagateErrors())
	}
	return opts
}

// Compile loads a pipeline file and builds a runner for it. Unknown source,
// stage and sink types fail here, before any data flows.
func Compile(path string) (*Runner, error) {
	cfg, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	return Build(cfg)
}

// Build turns a loaded pipeline description into a runner.
func Build(cfg spec.File) (*Runner, error) {
	cfg.Sinks = slices.Clone(cfg.Sinks)
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	b := &build{}
	r, err := b.runner(cfg)
	if err != nil {
		for _, c := range b.closers {
			_ = c.Close()
		}
		return nil, err
	}
	return r, nil
}

func (b *build) runner(cfg spec.File) (*Runner, error) {
	var heads []*stream.Stage
	for i, s := range cfg.Sources {
		fn, ok := sources[s.Type]
		if !ok {
			return nil, fmt.Errorf("%w: source %q", ErrUnknownType, s.Type)
		}
		st, err := fn(b, s)
		if err != nil {
			return nil, fmt.Errorf("source %d (%s): %w", i, s.Type, err)
		}
		heads = append(heads, st)
	}
	var head *stream.Stage
	if len(heads) == 1 {
		head = heads[0]
	} else {
		c, err := stream.Combine(heads...)
		if err != nil {
			return nil, err
		}
		head = c
	}

	chain := head
	for i, s := range cfg.Stages {
		fn, ok := stages[s.Type]
		if !ok {
			return nil, fmt.Errorf("%w: stage %q", ErrUnknownType, s.Type)
		}
		st, err := fn(s)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, s.Type, err)
		}
		chain = chain.Then(st)
	}

	var (
		targets  []sink.Target
		failures sink.Adapter
	)
	for _, s := range cfg.Sinks {
		a, err := b.sink(s)
		if err != nil {
			return nil, err
		}
		if s.Name == cfg.Failures {
			failures = a
			continue
		}
		targets = append(targets, sink.Target{Name: s.Name, Adapter: a, Size: s.Batch, Timeout: s.Timeout})
	}

	r := &Runner{failures: failures}
	if cfg.Broker == nil {
		r.chain = r.deliver(chain, targets)
		r.closers = b.closers
		return r, nil
	}

	// The pipeline feeds an embedded broker; sinks read the topic back.
	bc, err := config.LoadBrokerConfig(cfg.Broker.Config)
	if err != nil {
		return nil, err
	}
	sub, err := broker.NewSubscribe(bc)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, sub)
	sub.Feed(chain, cfg.Broker.Topic)
	r.broker = sub
	if len(targets) > 0 {
		back, err := sub.Topic(cfg.Broker.Topic, broker.ConsumerOptions{})
		if err != nil {
			return nil, err
		}
		r.chain = r.deliver(back.Then(stream.Map(payload)), targets)
	}
	r.closers = b.closers
	return r, nil
}

func (b *build) sink(s spec.SinkSpec) (sink.Adapter, error) {
	a, err := sink.NewAdapter(s.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}
	// Drivers registered outside this package get the raw YAML node.
	var cfg any = &s.Config
	if decode, ok := sinkConfigs[s.Type]; ok {
		if cfg, err = decode(&s.Config); err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.Name, err)
		}
	}
	if err := a.Configure(cfg); err != nil {
		return nil, fmt.Errorf("sink %s: %w", s.Name, err)
	}
	b.closers = append(b.closers, a)
	return a, nil
}

func decodeInto[T any](n *yaml.Node) (any, error) {
	var c T
	if n == nil || n.Kind == 0 {
		return c, nil
	}
	err := n.Decode(&c)
	return c, err
}

func fileOptions(s spec.SourceSpec) (source.FileOptions, error) {
	opts := source.FileOptions{FileWait: s.Wait, ConfirmWait: s.ConfirmWait}
	if s.Filter != nil {
		f, err := newFilter(s.Filter)
		if err != nil {
			return opts, err
		}
		opts.Filter = f
	}
	return opts, nil
}

func newFilter(fs *spec.FilterSpec) (dedup.Filter, error) {
	if fs == nil {
		fs = &spec.FilterSpec{}
	}
	return dedup.New(fs.Kind, fs.Path, dedup.Options{
		Capacity: fs.Capacity, ErrorRate: fs.ErrorRate, Numeric: fs.Numeric,
	})
}

func payload(it stream.Item) (stream.Item, error) {
	if r, ok := it.(broker.Record); ok {
		return r.Payload, nil
	}
	return it, nil
}

// field reads a record field; an empty name or a non-record item stands
// for the item itself.
func field(it stream.Item, name string) any {
	if name == "" {
		return it
	}
	if m, ok := it.(map[string]any); ok {
		return m[name]
	}
	return it
}

func textKey(name string) func(stream.Item) string {
	return func(it stream.Item) string {
		switch v := field(it, name).(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
}

func numberKey(name string) func(stream.Item) float64 {
	return func(it stream.Item) float64 {
		switch v := field(it, name).(type) {
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case float64:
			return v
		case string:
			f, _ := strconv.ParseFloat(v, 64)
			return f
		}
		return 0
	}
}
