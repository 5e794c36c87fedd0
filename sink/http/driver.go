package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"streamline/sink"
)

type Config struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"` // GET sends record fields as query args; POST sends a body
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`

	Client *fasthttp.Client `yaml:"-"`
}

const userAgent = "streamline http-sink"

type driver struct {
	cfg Config
	c   *fasthttp.Client
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("http-sink: want Config, got %T", c)
	}
	if cfg.URL == "" {
		return errors.New("http-sink: url is required")
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = fasthttp.MethodGet
	}
	if cfg.Method != fasthttp.MethodGet && cfg.Method != fasthttp.MethodPost {
		return fmt.Errorf("http-sink: unsupported method %q", cfg.Method)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	d.cfg = cfg
	d.c = cfg.Client
	if d.c == nil {
		d.c = &fasthttp.Client{Name: userAgent}
	}
	return nil
}

func (d *driver) Emit(_ context.Context, item any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.cfg.URL)
	req.Header.SetMethod(d.cfg.Method)
	req.Header.SetUserAgent(userAgent)
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	if d.cfg.Method == fasthttp.MethodGet {
		rec, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("http-sink: GET needs a record, got %T", item)
		}
		args := req.URI().QueryArgs()
		for k, v := range rec {
			args.Add(k, fmt.Sprint(v))
		}
	} else {
		body, err := d.body(item)
		if err != nil {
			return err
		}
		req.SetBody(body)
	}

	if err := d.c.DoTimeout(req, resp, d.cfg.Timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code >= 300 {
		return fmt.Errorf("http-sink: %s %s: status %d", d.cfg.Method, d.cfg.URL, code)
	}
	return nil
}

// body renders JSON when the request is declared as JSON, the raw item
// otherwise.
func (d *driver) body(item any) ([]byte, error) {
	for k, v := range d.cfg.Headers {
		if strings.EqualFold(k, "Content-Type") && strings.HasPrefix(v, "application/json") {
			return json.Marshal(item)
		}
	}
	return sink.Encode(item)
}

func (d *driver) EmitMany(ctx context.Context, items []any) error {
	failed := map[int]error{}
	for i, it := range items {
		if err := d.Emit(ctx, it); err != nil {
			failed[i] = err
		}
	}
	if len(failed) > 0 {
		return &sink.PartialError{Failed: failed}
	}
	return nil
}

func (d *driver) Close() error {
	if d.c != nil {
		d.c.CloseIdleConnections()
	}
	return nil
}

func init() { sink.Register("http", func() sink.Adapter { return &driver{} }) }
