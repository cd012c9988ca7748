package packet

// Checksum computes the RFC 1071 internet checksum of b. Words are read with
// the first byte of each pair as the low byte and a trailing odd byte is added
// as a low byte, so the result written little-endian is in network order.
func Checksum(b []byte) uint16 {
	var sum uint32

	n := len(b) / 2 * 2
	for i := 0; i < n; i += 2 {
		sum += uint32(b[i+1])<<8 | uint32(b[i])
	}
	if n < len(b) {
		sum += uint32(b[len(b)-1])
	}

	for sum>>16 != 0 {
		sum = (sum >> 16) + (sum & 0xffff)
	}

	return ^uint16(sum)
}
