package security

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Port range accepted for the local service.
const (
	PortMin     = 9600
	PortMax     = 9699
	DefaultPort = 9611
	DefaultBind = "127.0.0.1"
)

// Network validation errors.
var (
	ErrInvalidPort = errors.New("port out of range")
	ErrInvalidBind = errors.New("bind address not allowed")
	ErrInvalidLAN  = errors.New("invalid LAN allow list")
)

// Network is the bind configuration of the local service.
type Network struct {
	Bind        string
	Port        int
	AllowLAN    bool
	AllowedLANs []string
}

// IsLoopback reports whether addr is a loopback bind address.
func IsLoopback(addr string) bool {
	switch strings.TrimSpace(addr) {
	case "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

// ValidateNetwork rejects unsafe exposure. Non-loopback binds require
// AllowLAN and a matching entry in AllowedLANs; enabling LAN access
// requires at least one entry.
func ValidateNetwork(n Network) error {
	if n.Port < PortMin || n.Port > PortMax {
		return fmt.Errorf("%w: %d not in %d-%d", ErrInvalidPort, n.Port, PortMin, PortMax)
	}

	bind := strings.TrimSpace(n.Bind)
	if bind == "" {
		return fmt.Errorf("%w: empty bind address", ErrInvalidBind)
	}

	if n.AllowLAN {
		if len(n.AllowedLANs) == 0 {
			return fmt.Errorf("%w: allow_lan requires at least one allowed_lans entry", ErrInvalidLAN)
		}
		for _, entry := range n.AllowedLANs {
			if err := validateLANEntry(entry); err != nil {
				return err
			}
		}
	}

	if IsLoopback(bind) {
		return nil
	}
	if !n.AllowLAN {
		return fmt.Errorf("%w: %s is not loopback and allow_lan is false", ErrInvalidBind, bind)
	}
	for _, entry := range n.AllowedLANs {
		if matchLAN(strings.TrimSpace(entry), bind) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s matches no allowed_lans entry", ErrInvalidBind, bind)
}

func validateLANEntry(entry string) error {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		if _, _, err := parseCIDR4(entry); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidLAN, entry, err)
		}
		return nil
	}
	if net.ParseIP(entry) == nil {
		return fmt.Errorf("%w: %q is not an IP address or CIDR", ErrInvalidLAN, entry)
	}
	return nil
}

// matchLAN reports whether addr equals entry or lies in the IPv4 CIDR entry.
func matchLAN(entry, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if !strings.Contains(entry, "/") {
		other := net.ParseIP(entry)
		return other != nil && other.Equal(ip)
	}

	network, mask, err := parseCIDR4(entry)
	if err != nil {
		return false
	}
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return binary.BigEndian.Uint32(v4)&mask == network
}

// parseCIDR4 returns the masked network address and mask of an IPv4 CIDR.
func parseCIDR4(cidr string) (uint32, uint32, error) {
	addr, bitsStr, ok := strings.Cut(cidr, "/")
	if !ok {
		return 0, 0, errors.New("missing prefix length")
	}
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return 0, 0, errors.New("not an IPv4 address")
	}
	bits, err := strconv.Atoi(bitsStr)
	if err != nil || bits < 0 || bits > 32 {
		return 0, 0, errors.New("prefix length must be 0-32")
	}

	var mask uint32
	if bits > 0 {
		mask = ^uint32(0) << (32 - bits)
	}
	return binary.BigEndian.Uint32(ip) & mask, mask, nil
}
