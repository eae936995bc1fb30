package prober

import (
	"context"
	"net"

	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
)

// tcpProber treats a host as reachable when its game port accepts a TCP
// connection.
type tcpProber struct {
	dialer *net.Dialer
}

func New() tcpProber {
	return tcpProber{dialer: &net.Dialer{}}
}

func (p tcpProber) Probe(ctx context.Context, details domain.HostDetails) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", details.Addr())
	if err != nil {
		return errors.WithMessagef(err, "dial game endpoint '%s'", details.Addr())
	}
	_ = conn.Close()
	return nil
}
