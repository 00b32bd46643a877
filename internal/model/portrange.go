package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// MinPort is the lowest port that can be probed or served.
	MinPort = 1

	// MaxPort is the highest valid UDP port number (2^16 - 1).
	MaxPort = 65535

	// MaxTokenLen is the largest token accepted on either side.
	MaxTokenLen = 128
)

// PortRange is an inclusive range of UDP ports. From <= To always holds
// for values built by NewPortRange.
type PortRange struct {
	From uint16 `json:"from"`
	To   uint16 `json:"to"`
}

// NewPortRange validates and builds a PortRange.
func NewPortRange(from, to uint16) (PortRange, error) {
	if from < MinPort || to < MinPort {
		return PortRange{}, fmt.Errorf("port range %d-%d: ports must be in %d-%d", from, to, MinPort, MaxPort)
	}
	if from > to {
		return PortRange{}, fmt.Errorf("port range %d-%d: from-port must be <= to-port", from, to)
	}
	return PortRange{From: from, To: to}, nil
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	return int(r.To) - int(r.From) + 1
}

// Ports returns every port in the range in ascending order.
//
// The loop counter is an int so that a range ending at 65535 terminates
// instead of wrapping the uint16 back to zero.
func (r PortRange) Ports() []uint16 {
	ports := make([]uint16, 0, r.Len())
	for p := int(r.From); p <= int(r.To); p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}

// String returns "from-to", or a single number when from == to.
func (r PortRange) String() string {
	if r.From == r.To {
		return strconv.Itoa(int(r.From))
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// ParsePort parses a decimal port number and checks it is in 1-65535.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port: %q is not a valid port number", s)
	}
	if n < MinPort || n > MaxPort {
		return 0, fmt.Errorf("port: %d not in valid range %d-%d", n, MinPort, MaxPort)
	}
	return uint16(n), nil
}

// ParseIP parses an IPv4 or IPv6 literal. Host names are rejected.
func ParseIP(s string) (net.IP, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil, fmt.Errorf("ip: %q is not a valid IP address", s)
	}
	return ip, nil
}

// ValidateToken checks that the token is non-empty and fits in one
// receive buffer.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if len(token) > MaxTokenLen {
		return fmt.Errorf("token is %d bytes, maximum is %d", len(token), MaxTokenLen)
	}
	return nil
}
