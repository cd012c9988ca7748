// Package packet encodes ICMP echo requests and validates the replies that come
// back for them. It does no I/O.
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	// HeaderSize is the fixed ICMP echo header: type, code, checksum, id, seq.
	HeaderSize = 8
	// UnitSize is the size of one timestamp unit in the payload.
	UnitSize = 8

	MinPayloadCount = 1
	MaxPayloadCount = 4096

	// MaxSize is the largest request BuildEchoRequest will produce.
	MaxSize = HeaderSize + UnitSize*MaxPayloadCount

	EchoRequest = uint8(ipv4.ICMPTypeEcho)
	EchoReply   = uint8(ipv4.ICMPTypeEchoReply)

	checksumOffset = 2
)

var (
	ErrShortPacket  = errors.New("packet shorter than icmp header")
	ErrPayloadCount = fmt.Errorf("payload count must be between %d and %d", MinPayloadCount, MaxPayloadCount)
)

// Header is the 8 byte echo header. Integer fields are little-endian on the
// wire; Checksum holds the value returned by Checksum, which stored that way is
// the network order internet checksum.
type Header struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      int16
}

func (h Header) marshal(b []byte) {
	b[0] = h.Type
	b[1] = h.Code
	binary.LittleEndian.PutUint16(b[2:4], h.Checksum)
	binary.LittleEndian.PutUint16(b[4:6], h.ID)
	binary.LittleEndian.PutUint16(b[6:8], uint16(h.Seq))
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	return Header{
		Type:     b[0],
		Code:     b[1],
		Checksum: binary.LittleEndian.Uint16(b[2:4]),
		ID:       binary.LittleEndian.Uint16(b[4:6]),
		Seq:      int16(binary.LittleEndian.Uint16(b[6:8])),
	}, nil
}

// BuildEchoRequest returns an echo request carrying payloadCount copies of the
// current time in seconds since the epoch.
func BuildEchoRequest(id uint16, seq int16, payloadCount int) ([]byte, error) {
	return buildEchoRequest(id, seq, payloadCount, unixSeconds(time.Now()))
}

func buildEchoRequest(id uint16, seq int16, payloadCount int, ts float64) ([]byte, error) {
	if payloadCount < MinPayloadCount || payloadCount > MaxPayloadCount {
		return nil, ErrPayloadCount
	}

	h := Header{Type: EchoRequest, Code: 0, ID: id, Seq: seq}
	buf := make([]byte, HeaderSize+UnitSize*payloadCount)

	// The checksum covers the header, so it is written twice: once zeroed for
	// the computation and once with the result.
	h.marshal(buf)
	unit := buf[HeaderSize : HeaderSize+UnitSize]
	binary.LittleEndian.PutUint64(unit, math.Float64bits(ts))
	for off := HeaderSize + UnitSize; off < len(buf); off += UnitSize {
		copy(buf[off:], unit)
	}

	h.Checksum = Checksum(buf)
	h.marshal(buf)

	return buf, nil
}

// Timestamp returns the send time stored in the first payload unit of b.
func Timestamp(b []byte) (float64, error) {
	if len(b) < HeaderSize+UnitSize {
		return 0, ErrShortPacket
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[HeaderSize:])), nil
}

// ValidateReply reports whether received is a checksum-valid echo of sent.
// The header type, id and sequence are not compared; the payload must match
// byte for byte.
func ValidateReply(sent, received []byte) bool {
	if len(received) < HeaderSize || len(sent) < HeaderSize {
		return false
	}

	if !bytes.Equal(received[HeaderSize:], sent[HeaderSize:]) {
		return false
	}

	stored := binary.LittleEndian.Uint16(received[checksumOffset:])
	zeroed := make([]byte, len(received))
	copy(zeroed, received)
	zeroed[checksumOffset] = 0
	zeroed[checksumOffset+1] = 0

	return Checksum(zeroed) == stored
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
