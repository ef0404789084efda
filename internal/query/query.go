// Package query asks a Minecraft server, or a status service in front of it,
// whether it is up and who is playing.
//
// Two backends exist. MCStatus talks to the mcstatus.io HTTP API; Direct
// speaks Server List Ping (Java, TCP) and RakNet unconnected ping (Bedrock,
// UDP) itself. Neither retries: a failed query is reported as an *Error and
// the caller decides what to do on its next tick.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
)

// Client queries server status for one protocol variant
type Client interface {
	Query(ctx context.Context, host string, port int, variant domain.Variant) (domain.RawStatus, error)
}

// Kind classifies query failures
type Kind int

const (
	KindUnknown Kind = iota
	KindUnreachable
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindMalformed:
		return "malformed response"
	default:
		return "unknown"
	}
}

// Error is the only error type returned by Query
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, KindUnknown for foreign errors
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

func unreachable(op string, err error) error {
	return &Error{Kind: KindUnreachable, Op: op, Err: err}
}

func malformed(op string, err error) error {
	return &Error{Kind: KindMalformed, Op: op, Err: err}
}

func unknown(op string, err error) error {
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

// classifyIO maps transport errors: timeouts and network failures are
// unreachable, anything else is a protocol violation
func classifyIO(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return unreachable(op, err)
	}
	return malformed(op, err)
}

// classifyStream is classifyIO for connection-oriented reads, where the
// peer closing early means the server dropped us
func classifyStream(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return unreachable(op, err)
	}
	return classifyIO(op, err)
}

// New returns the client for a configured source
func New(source, apiURL string, timeout time.Duration) (Client, error) {
	switch source {
	case "mcstatus", "":
		return NewMCStatus(apiURL, timeout), nil
	case "direct":
		return NewDirect(timeout), nil
	default:
		return nil, fmt.Errorf("unknown status source %q", source)
	}
}
