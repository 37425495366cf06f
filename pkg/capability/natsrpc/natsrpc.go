// Package natsrpc carries capability invocations over NATS request/reply.
//
// A Server publishes a capability table on two subjects, <prefix>.describe
// and <prefix>.invoke. A Source on another process reads the descriptors
// once and forwards invocations to the server.
package natsrpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/maia-bench/maia/pkg/capability"
)

// Error codes carried in response envelopes.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnknownCapability = "UNKNOWN_CAPABILITY"
	CodeCapabilityError   = "CAPABILITY_ERROR"
	CodeInternal          = "INTERNAL"
)

// InvokeRequest is the body of an invoke message.
type InvokeRequest struct {
	// Capability is the capability's original name.
	Capability string          `json:"capability"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// Response is the envelope of every reply.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DescribeResponse lists the capabilities a server publishes.
type DescribeResponse struct {
	Capabilities []capability.Descriptor `json:"capabilities"`
}

func describeSubject(prefix string) string { return prefix + ".describe" }
func invokeSubject(prefix string) string   { return prefix + ".invoke" }

// Connect opens a NATS connection with reconnect handling and logging.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	slog.Info("connected to NATS", "url", nc.ConnectedUrl(), "name", name)
	return nc, nil
}
