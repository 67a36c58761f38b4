package discovery

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultPort is the host control port when an advertisement omits one.
const DefaultPort = 47989

// Advertisement is the minimal identity a host broadcasts about itself.
type Advertisement struct {
	Name      string
	HostName  string
	Port      int
	Addresses []string
	LastSeen  time.Time
}

// Endpoints returns each advertised address joined with the advertised port.
func (a Advertisement) Endpoints() []string {
	port := a.Port
	if port <= 0 {
		port = DefaultPort
	}
	out := make([]string, 0, len(a.Addresses))
	for _, addr := range a.Addresses {
		out = append(out, net.JoinHostPort(addr, strconv.Itoa(port)))
	}
	return out
}

// sameAs ignores LastSeen.
func (a Advertisement) sameAs(b Advertisement) bool {
	return a.Name == b.Name &&
		a.HostName == b.HostName &&
		a.Port == b.Port &&
		slices.Equal(a.Addresses, b.Addresses)
}

// advertisementFromEntry converts a browse result. Entries with no usable
// address or name are rejected.
func advertisementFromEntry(entry *zeroconf.ServiceEntry) (Advertisement, bool) {
	var addresses []string
	for _, ip := range slices.Concat(entry.AddrIPv4, entry.AddrIPv6) {
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		if raw := ip.String(); !slices.Contains(addresses, raw) {
			addresses = append(addresses, raw)
		}
	}
	if len(addresses) == 0 {
		return Advertisement{}, false
	}
	sortAddresses(addresses)

	name := firstNonBlank(entry.Instance, strings.TrimSuffix(entry.HostName, "."))
	if name == "" {
		return Advertisement{}, false
	}

	port := entry.Port
	if port <= 0 {
		port = DefaultPort
	}

	return Advertisement{
		Name:      name,
		HostName:  entry.HostName,
		Port:      port,
		Addresses: addresses,
	}, true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// sortAddresses puts IPv4 first, then sorts lexically.
func sortAddresses(addresses []string) {
	slices.SortStableFunc(addresses, func(a, b string) int {
		av4 := net.ParseIP(a).To4() != nil
		bv4 := net.ParseIP(b).To4() != nil
		switch {
		case av4 && !bv4:
			return -1
		case bv4 && !av4:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
}
