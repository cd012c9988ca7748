package check

import (
	"context"
	"net"
	"time"
)

// Prober sends one echo request per call and reports what happened to it.
type Prober interface {
	Probe(ctx context.Context, seq int16) Outcome
}

// Outcome is the result of a single probe.
type Outcome struct {
	// Transmitted is 1 when the request left the socket.
	Transmitted int

	// Received is 1 when a valid reply carrying the sent payload came back.
	Received int

	// Rtt is the time from send until the reply attempt concluded. Only
	// meaningful when Timed is set.
	Rtt   time.Duration
	Timed bool
}

// Lost reports whether the probe produced no valid reply.
func (o Outcome) Lost() bool {
	return o.Received == 0
}

// Packet represents a received and validated ICMP echo reply.
type Packet struct {
	// Rtt is the round-trip time it took to ping.
	Rtt time.Duration

	// IPAddr is the address the reply came from.
	IPAddr *net.IPAddr

	// Addr is the string address of the host being pinged.
	Addr string

	// NBytes is the number of bytes in the message.
	Nbytes int

	// Seq is the ICMP sequence number.
	Seq int

	// ID is the ICMP identifier.
	ID int
}
