// Package netio provides the UDP transport for BFD Control packets.
//
// One socket is bound per local port and shared by every session on that
// port. Sockets transmit with TTL 255 and report the received TTL through
// IP_RECVTTL ancillary data (RFC 5881 Section 5, RFC 5082 GTSM). The
// Linux implementation uses golang.org/x/net/ipv4 and golang.org/x/sys/unix.
package netio
