package port

import (
	"net"
	"strconv"

	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

// Scanner checks whether UDP ports are free on a local address.
//
// It asks the operating system directly by binding with net.ListenPacket
// and closing the socket again, rather than parsing /proc/net/udp or
// shelling out to ss/lsof, which may need elevated permissions.
type Scanner struct {
	// ip is the local address to test. Binding 0.0.0.0 conflicts with any
	// specific address on the same port, so it is the strictest check.
	ip net.IP
}

// NewScanner creates a Scanner for the given local address.
func NewScanner(ip net.IP) *Scanner {
	return &Scanner{ip: ip}
}

// IsUDPPortAvailable reports whether port can be bound on the scanner's
// address right now.
func (s *Scanner) IsUDPPortAvailable(port uint16) bool {
	addr := net.JoinHostPort(s.ip.String(), strconv.Itoa(int(port)))

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return false
	}
	// We only needed to test availability, so release the port at once.
	_ = conn.Close()
	return true
}

// BusyPorts returns the ports in r that cannot be bound, in ascending
// order. An empty slice means the whole range is free.
func (s *Scanner) BusyPorts(r model.PortRange) []uint16 {
	busy := make([]uint16, 0)
	for _, p := range r.Ports() {
		if !s.IsUDPPortAvailable(p) {
			busy = append(busy, p)
		}
	}
	return busy
}
