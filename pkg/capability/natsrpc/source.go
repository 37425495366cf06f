package natsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/debug"
)

// Source exposes the capabilities of a remote Server.
type Source struct {
	nc       *nats.Conn
	prefix   string
	bindings []capability.Binding
}

var _ capability.Source = (*Source)(nil)

// NewSource asks the server on prefix for its capabilities. The
// connection stays owned by the caller.
func NewSource(ctx context.Context, nc *nats.Conn, prefix string) (*Source, error) {
	s := &Source{nc: nc, prefix: prefix}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := s.request(ctx, describeSubject(prefix), []byte(`{}`))
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("describe %s: %s", prefix, resp.Error.Message)
	}
	var desc DescribeResponse
	if err := json.Unmarshal(resp.Result, &desc); err != nil {
		return nil, fmt.Errorf("describe %s: decoding: %w", prefix, err)
	}

	for _, d := range desc.Capabilities {
		name := d.Name
		s.bindings = append(s.bindings, capability.Binding{
			Input: capability.Plain(d),
			Impl: capability.Func(func(ctx context.Context, args json.RawMessage) (any, error) {
				return s.invoke(ctx, name, args)
			}),
		})
	}
	return s, nil
}

// Name implements capability.Source.
func (s *Source) Name() string { return "nats:" + s.prefix }

// Bindings implements capability.Source.
func (s *Source) Bindings() []capability.Binding { return s.bindings }

// Close is a no-op; the connection belongs to the caller.
func (s *Source) Close() error { return nil }

func (s *Source) invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	data, err := json.Marshal(InvokeRequest{Capability: name, Args: args})
	if err != nil {
		return nil, err
	}
	resp, err := s.request(ctx, invokeSubject(s.prefix), data)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &capability.CapabilityError{Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (s *Source) request(ctx context.Context, subject string, data []byte) (*Response, error) {
	debug.Log("nats", "request", "subject", subject, "bytes", len(data))
	msg, err := s.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("nats request %s: decoding reply: %w", subject, err)
	}
	if !resp.OK && resp.Error == nil {
		resp.Error = &ErrorDetail{Code: CodeInternal, Message: "request failed without detail"}
	}
	return &resp, nil
}
