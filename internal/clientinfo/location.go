package clientinfo

import (
	"net/netip"
)

// Location is a coarse, privacy-safe snapshot of where a request came from.
// Raw addresses are reduced to a network prefix.
type Location struct {
	NetworkPrefix string `json:"networkPrefix,omitempty"`
	Scope         string `json:"scope"`
	CountryCode   string `json:"countryCode,omitempty"`
	City          string `json:"city,omitempty"`
}

const (
	ScopePublic   = "public"
	ScopePrivate  = "private"
	ScopeLoopback = "loopback"
	ScopeInvalid  = "invalid"
)

// Locator resolves an IP address to a Location. Implementations backed by a
// geo database can be plugged in; NetworkLocator is the built-in fallback.
type Locator interface {
	Locate(ip string) Location
}

// NetworkLocator classifies addresses by range and masks them to /24 (IPv4)
// or /64 (IPv6). It knows nothing about countries.
type NetworkLocator struct{}

func (NetworkLocator) Locate(ip string) Location {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{Scope: ScopeInvalid}
	}
	addr = addr.Unmap()
	location := Location{NetworkPrefix: MaskAddr(addr), Scope: ScopePublic}
	switch {
	case addr.IsLoopback():
		location.Scope = ScopeLoopback
	case addr.IsPrivate() || addr.IsLinkLocalUnicast():
		location.Scope = ScopePrivate
	}
	return location
}

// MaskAddr returns the /24 or /64 prefix containing addr.
func MaskAddr(addr netip.Addr) string {
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}

// ValidIP reports whether ip parses as an IPv4 or IPv6 address.
func ValidIP(ip string) bool {
	_, err := netip.ParseAddr(ip)
	return err == nil
}
