package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Server is an OTA server found on the network.
type Server struct {
	// Instance is the advertised instance name (e.g., "otafleet")
	Instance string

	// Hostname is the mDNS hostname (e.g., "buildbox.local.")
	Hostname string

	// IP is the first address the server answered from, IPv4 preferred
	IP string

	Port int

	// Metadata holds the TXT records, e.g. "version=1.4.0", "path=/"
	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable description.
func (s *Server) String() string {
	return fmt.Sprintf("%s (%s) at %s", s.Instance, s.Hostname, net.JoinHostPort(s.IP, strconv.Itoa(s.Port)))
}

// BaseURL returns the HTTP base URL for the server.
func (s *Server) BaseURL() string {
	return "http://" + net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// Version returns the advertised firmware version, or "" when absent.
func (s *Server) Version() string {
	return s.GetMetadata(txtVersion)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found.
func (s *Server) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
