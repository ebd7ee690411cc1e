//go:build !linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

func listenDefault(_ context.Context, laddr netip.AddrPort) (PacketConn, error) {
	return nil, fmt.Errorf("listen UDP %s: %w", laddr, errors.ErrUnsupported)
}
