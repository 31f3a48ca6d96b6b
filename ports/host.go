package ports

import (
	"context"

	"emperror.dev/errors"
	"github.com/shirou/gopsutil/v3/net"
)

// InUse returns every local TCP and UDP port that currently has a socket bound
// to it on the host. Ports held by processes that wraith does not manage are
// otherwise invisible to the allocator.
func InUse(ctx context.Context) (Reserved, error) {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, errors.Wrap(err, "ports: failed to list host sockets")
	}
	r := make(Reserved, len(conns))
	for _, c := range conns {
		if c.Laddr.Port == 0 || c.Laddr.Port > 65535 {
			continue
		}
		r.Add(uint16(c.Laddr.Port))
	}
	return r, nil
}
