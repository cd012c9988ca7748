package util

import (
	"errors"
	"net"
)

var (
	ErrIfaceDown   = errors.New("interface is down")
	ErrIfaceNoAddr = errors.New("interface has no IPv4 address")
)

// BindIface returns the first IPv4 address of the named interface, used as
// the source address for probes.
func BindIface(ifaceName string) (addr string, err error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return
	}
	if !IsUp(iface) {
		err = ErrIfaceDown
		return
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return
	}
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.String())
		if err != nil {
			continue
		}
		if ip.To4() == nil {
			continue
		}
		addr = ip.String()
		break
	}
	if addr == "" {
		err = ErrIfaceNoAddr
	}

	return
}

func IsUp(nif *net.Interface) bool { return nif.Flags&net.FlagUp != 0 }
