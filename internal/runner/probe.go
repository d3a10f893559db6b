package runner

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Probe blocks until a started server is ready to accept its client, or
// returns an error once ctx is done.
type Probe func(ctx context.Context) error

const probeInterval = 100 * time.Millisecond

// TCPProbe reports ready once addr accepts a TCP connection.
func TCPProbe(addr string) Probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		for {
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err == nil {
				return conn.Close()
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("waiting for %s: %w", addr, err)
			case <-time.After(probeInterval):
			}
		}
	}
}
