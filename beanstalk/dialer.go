package beanstalk

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/queue"
)

const defaultPort string = "11300"

// Dialer opens beanstalkd sessions.
type Dialer struct {
	network string
	addr    string
	timeout time.Duration
}

var _ queue.Dialer = (*Dialer)(nil)

// NewDialer accepts tcp://host:port, unix:///path or host[:port] addresses.
// A zero timeout leaves the dial bounded by the context only.
func NewDialer(addr string, timeout time.Duration) (*Dialer, error) {
	const op = errors.Op("beanstalk_new_dialer")

	network, address, err := parseAddr(addr)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return &Dialer{
		network: network,
		addr:    address,
		timeout: timeout,
	}, nil
}

func (d *Dialer) Dial(ctx context.Context) (queue.Client, error) {
	const op = errors.Op("beanstalk_dial")

	nd := &net.Dialer{Timeout: d.timeout}
	nc, err := nd.DialContext(ctx, d.network, d.addr)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return newClient(nc), nil
}

func (d *Dialer) String() string {
	return d.network + "://" + d.addr
}

func parseAddr(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", errors.Str("beanstalkd address can't be empty")
	}

	network := "tcp"
	if scheme, rest, ok := strings.Cut(addr, "://"); ok {
		network, addr = scheme, rest
	}

	switch network {
	case "tcp", "tcp4", "tcp6":
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		return network, addr, nil
	case "unix":
		if addr == "" {
			return "", "", errors.Str("unix socket path can't be empty")
		}
		return network, addr, nil
	default:
		return "", "", errors.Errorf("unsupported network: %s", network)
	}
}
