package check

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thetooth/echoprobe/packet"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

var (
	ipv4Proto = map[string]string{"icmp": "ip4:icmp", "udp": "udp4"}

	ErrEmptyAddr = errors.New("addr cannot be empty")
)

// NewPinger returns a new Pinger and resolves the address.
func NewPinger(addr string) (*Pinger, error) {
	p := &Pinger{
		Size: 8,

		addr:     addr,
		id:       uint16(os.Getpid()),
		network:  "ip4",
		protocol: "udp",
	}
	p.listen = p.listenICMP
	return p, p.Resolve()
}

// Pinger probes one destination with a fresh ICMP endpoint per probe.
type Pinger struct {
	// Size is the number of timestamp units in each request payload.
	Size int

	// Timeout bounds the wait for a reply. Zero waits until the socket fails.
	Timeout time.Duration

	// OnSend is called after a request has been written
	OnSend func(*Packet)

	// OnRecv is called when a valid reply arrives
	OnRecv func(*Packet)

	ipaddr  *net.IPAddr
	addr    string
	srcAddr string

	id uint16
	// network is always "ip4"; IPv6 is not probed.
	network string
	// protocol is "icmp" or "udp".
	protocol string

	listen func() (packetConn, error)
}

// Resolve does the DNS lookup for the Pinger address.
func (p *Pinger) Resolve() error {
	if len(p.addr) == 0 {
		return ErrEmptyAddr
	}
	ipaddr, err := net.ResolveIPAddr(p.network, p.addr)
	if err != nil {
		return err
	}

	p.ipaddr = ipaddr

	return nil
}

// SetTarget resolves and sets the ip address of the target host, addr can be a
// DNS name like "www.google.com" or IP like "127.0.0.1".
func (p *Pinger) SetTarget(addr string) error {
	oldAddr := p.addr
	p.addr = addr
	err := p.Resolve()
	if err != nil {
		p.addr = oldAddr
		return err
	}
	return nil
}

// Target returns the host string the Pinger was created with.
func (p *Pinger) Target() string {
	return p.addr
}

// IPAddr returns the resolved destination.
func (p *Pinger) IPAddr() *net.IPAddr {
	return p.ipaddr
}

func (p *Pinger) SetSource(addr string) error {
	if addr != "" && net.ParseIP(addr) == nil {
		return &net.AddrError{Err: "invalid source address", Addr: addr}
	}
	p.srcAddr = addr

	return nil
}

func (p *Pinger) Source() string {
	return p.srcAddr
}

// ID returns the identifier carried by every request of this Pinger.
func (p *Pinger) ID() uint16 {
	return p.id
}

func (p *Pinger) SetID(id uint16) {
	p.id = id
}

// SetPrivileged sets the type of ping pinger will send.
// false means pinger will send an "unprivileged" datagram ICMP ping.
// true means pinger will send a "privileged" raw ICMP ping.
// NOTE: setting to true requires that it be run with super-user privileges.
func (p *Pinger) SetPrivileged(privileged bool) {
	if privileged {
		p.protocol = "icmp"
	} else {
		p.protocol = "udp"
	}
}

// Privileged returns whether pinger is running in privileged mode.
func (p *Pinger) Privileged() bool {
	return p.protocol == "icmp"
}

// Preflight opens and closes one endpoint so permission problems surface
// before any probe is counted.
func (p *Pinger) Preflight() error {
	conn, err := p.listen()
	if err != nil {
		return err
	}
	return conn.Close()
}

// Probe sends one echo request with the given sequence number and blocks
// until its reply arrives, the socket fails, Timeout passes or ctx ends.
func (p *Pinger) Probe(ctx context.Context, seq int16) (out Outcome) {
	log := logrus.WithFields(logrus.Fields{"target": p.addr, "seq": seq})

	req, err := packet.BuildEchoRequest(p.id, seq, p.Size)
	if err != nil {
		log.Debug("Building packet: ", err)
		return
	}

	conn, err := p.listen()
	if err != nil {
		log.Debug("Opening socket: ", err)
		return
	}
	defer conn.Close()

	start := time.Now()
	if p.Timeout > 0 {
		if err = conn.SetReadDeadline(start.Add(p.Timeout)); err != nil {
			log.Debug("Setting deadline: ", err)
			return
		}
	}
	// Unblock the read below when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err = conn.WriteTo(req, p.dst()); err != nil {
		log.Debug("Sending packet: ", err)
		return
	}
	out.Transmitted = 1

	if handler := p.OnSend; handler != nil {
		handler(&Packet{
			Nbytes: len(req),
			IPAddr: p.ipaddr,
			Addr:   p.addr,
			Seq:    int(seq),
			ID:     int(p.id),
		})
	}

	buf := make([]byte, packet.MaxSize+ipv4.HeaderLen)
	for {
		n, peer, err := conn.ReadFrom(buf)
		out.Rtt, out.Timed = time.Since(start), true
		if err != nil {
			log.Debug("Receiving packet: ", err)
			return
		}
		if n == 0 {
			log.Debug("Received empty packet")
			return
		}

		reply := buf[:n]
		// Raw sockets see every ICMP datagram addressed to the host
		if p.Privileged() && !p.matchReply(peer, reply, seq) {
			continue
		}

		if !packet.ValidateReply(req, reply) {
			log.Debug("Received invalid reply")
			return
		}
		out.Received = 1

		if handler := p.OnRecv; handler != nil {
			handler(&Packet{
				Rtt:    out.Rtt,
				IPAddr: peerIPAddr(peer),
				Addr:   p.addr,
				Nbytes: n,
				Seq:    int(seq),
				ID:     int(p.id),
			})
		}
		return
	}
}

// matchReply filters raw socket traffic down to replies for this probe.
// Datagrams too short to carry a header are left for validation to reject.
func (p *Pinger) matchReply(peer net.Addr, b []byte, seq int16) bool {
	h, err := packet.ParseHeader(b)
	if err != nil {
		return true
	}
	if h.Type != packet.EchoReply || h.ID != p.id || h.Seq != seq {
		return false
	}
	if ip := peerIPAddr(peer); ip != nil && p.ipaddr != nil && !ip.IP.Equal(p.ipaddr.IP) {
		return false
	}
	return true
}

func (p *Pinger) dst() net.Addr {
	if p.protocol == "udp" {
		return &net.UDPAddr{IP: p.ipaddr.IP, Zone: p.ipaddr.Zone}
	}
	return p.ipaddr
}

func (p *Pinger) listenICMP() (packetConn, error) {
	c, err := icmp.ListenPacket(ipv4Proto[p.protocol], p.srcAddr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func peerIPAddr(addr net.Addr) *net.IPAddr {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a
	case *net.UDPAddr:
		return &net.IPAddr{IP: a.IP, Zone: a.Zone}
	default:
		return nil
	}
}
