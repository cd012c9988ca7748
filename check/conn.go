package check

import (
	"net"
	"time"
)

// packetConn is the part of *icmp.PacketConn a probe needs.
type packetConn interface {
	Close() error
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
}
