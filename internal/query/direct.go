package query

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
)

const maxResponse = 65535

// Direct queries the game server itself without a status service
type Direct struct {
	timeout time.Duration
}

// NewDirect creates a direct client; every query is bounded by timeout
func NewDirect(timeout time.Duration) *Direct {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Direct{timeout: timeout}
}

// Query dispatches on the variant's wire protocol
func (d *Direct) Query(ctx context.Context, host string, port int, variant domain.Variant) (domain.RawStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	switch variant {
	case domain.VariantJava:
		return queryJava(ctx, address, host, port)
	case domain.VariantBedrock:
		return queryBedrock(ctx, address)
	default:
		return domain.RawStatus{}, unknown("direct query", fmt.Errorf("unsupported variant %q", variant))
	}
}

// dial connects and applies the context deadline to the whole exchange
func dial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}
