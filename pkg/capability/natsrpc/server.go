package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/maia-bench/maia/pkg/capability"
)

// DefaultQueue is the queue group servers join so that replicas share load.
const DefaultQueue = "maia-capabilities"

// Server answers describe and invoke requests for a capability table.
type Server struct {
	table   *capability.Table
	timeout time.Duration
	subs    []*nats.Subscription
}

// ServerOptions tunes a Server.
type ServerOptions struct {
	// Queue is the queue group (default DefaultQueue).
	Queue string

	// Timeout bounds each invocation (default 60s).
	Timeout time.Duration
}

// Serve subscribes table on prefix.describe and prefix.invoke.
func Serve(nc *nats.Conn, prefix string, table *capability.Table, opts ServerOptions) (*Server, error) {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{table: table, timeout: opts.Timeout}

	describe, err := nc.QueueSubscribe(describeSubject(prefix), opts.Queue, s.handleDescribe)
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", describeSubject(prefix), err)
	}
	invoke, err := nc.QueueSubscribe(invokeSubject(prefix), opts.Queue, s.handleInvoke)
	if err != nil {
		describe.Unsubscribe()
		return nil, fmt.Errorf("subscribing %s: %w", invokeSubject(prefix), err)
	}
	s.subs = []*nats.Subscription{describe, invoke}
	slog.Info("serving capabilities over NATS", "prefix", prefix, "capabilities", table.Registry().Len())
	return s, nil
}

// Close drains the subscriptions.
func (s *Server) Close() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleDescribe(msg *nats.Msg) {
	caps := s.table.Registry().Capabilities()
	out := DescribeResponse{Capabilities: make([]capability.Descriptor, 0, len(caps))}
	for _, c := range caps {
		out.Capabilities = append(out.Capabilities, capability.Descriptor{
			Name:        c.OriginalName,
			Description: c.Description,
			Parameters:  c.Parameters,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		respond(msg, fail(CodeInternal, err.Error()))
		return
	}
	respond(msg, Response{OK: true, Result: data})
}

func (s *Server) handleInvoke(msg *nats.Msg) {
	var req InvokeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respond(msg, fail(CodeInvalidRequest, "failed to decode request: "+err.Error()))
		return
	}
	dispatchID, err := capability.Normalize(req.Capability)
	if err != nil {
		respond(msg, fail(CodeInvalidRequest, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.table.Invoke(ctx, dispatchID, req.Args)
	if err != nil {
		var de *capability.DispatchError
		if errors.As(err, &de) {
			respond(msg, fail(CodeUnknownCapability, de.Error()))
			return
		}
		respond(msg, fail(CodeCapabilityError, err.Error()))
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		respond(msg, fail(CodeInternal, "encoding result: "+err.Error()))
		return
	}
	respond(msg, Response{OK: true, Result: data})
}

func fail(code, message string) Response {
	return Response{Error: &ErrorDetail{Code: code, Message: message}}
}

func respond(msg *nats.Msg, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("encoding NATS response", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("responding on NATS", "subject", msg.Subject, "error", err)
	}
}
