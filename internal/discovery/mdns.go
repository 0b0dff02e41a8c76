package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/logging"
)

const (
	// ServiceType is the mDNS service type OTA servers advertise
	ServiceType = "_otafleet._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for server discovery
	DefaultScanTimeout = 3 * time.Second

	// DefaultPort is assumed when an entry carries no port
	DefaultPort = 8080
)

// TXT record keys.
const (
	txtVersion = "version"
	txtPath    = "path"
)

// Service describes the server being advertised.
type Service struct {
	Instance string
	Port     int
	Version  string
}

func (s Service) text() []string {
	txt := []string{txtPath + "=/"}
	if s.Version != "" {
		txt = append(txt, txtVersion+"="+s.Version)
	}
	return txt
}

// Advertisement is a live mDNS registration.
type Advertisement struct {
	once   sync.Once
	server *zeroconf.Server
}

// Register starts answering mDNS queries for svc on all interfaces.
func Register(svc Service) (*Advertisement, error) {
	if svc.Instance == "" {
		return nil, errors.New("mDNS instance name is required")
	}
	if svc.Port <= 0 {
		return nil, fmt.Errorf("invalid mDNS port %d", svc.Port)
	}

	server, err := zeroconf.Register(svc.Instance, ServiceType, ServiceDomain, svc.Port, svc.text(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising over mDNS",
		zap.String("instance", svc.Instance),
		zap.String("service", ServiceType),
		zap.Int("port", svc.Port),
	)
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement. It is safe to call more than once.
func (a *Advertisement) Shutdown() {
	a.once.Do(func() {
		a.server.Shutdown()
		logging.Debug("mDNS advertisement withdrawn")
	})
}

// Browse collects the OTA servers answering within timeout. Results are
// de-duplicated by instance name.
func Browse(ctx context.Context, timeout time.Duration) ([]*Server, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	var (
		mu      sync.Mutex
		seen    = make(map[string]bool)
		servers []*Server
	)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				srv := parseServiceEntry(entry)
				if srv == nil {
					continue
				}
				mu.Lock()
				if !seen[srv.Instance] {
					seen[srv.Instance] = true
					servers = append(servers, srv)
				}
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Server(nil), servers...), nil
}

// parseServiceEntry converts a zeroconf entry to a Server. Entries without an
// address are dropped.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Server {
	if entry == nil {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Server{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
