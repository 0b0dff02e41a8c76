package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/config"
	"github.com/muurk/otafleet/internal/discovery"
	"github.com/muurk/otafleet/internal/firmware"
	"github.com/muurk/otafleet/internal/fleet"
	"github.com/muurk/otafleet/internal/logging"
	"github.com/muurk/otafleet/internal/provision"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server is the OTA HTTP service.
type Server struct {
	cfg      *config.ServerConfig
	fleet    *fleet.Fleet
	catalog  *firmware.Catalog
	verifier *provision.Verifier
	metrics  *metrics
	handler  http.Handler
	localIP  string

	// progressInterval throttles tracker updates while streaming.
	progressInterval time.Duration

	httpServer *http.Server
	tlsConfig  *tls.Config
	advert     *discovery.Advertisement
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	activeConns map[string]net.Conn
}

// New creates a Server from cfg. The firmware catalog is loaded but nothing
// is listening until Start.
func New(cfg *config.ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	catalog, err := firmware.NewCatalog(cfg.FirmwarePath, cfg.FirmwareDir, cfg.FirmwareVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load firmware: %w", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled() {
		tlsConfig, err = NewTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	return newServer(cfg, fleet.New(nil), catalog, tlsConfig), nil
}

func newServer(cfg *config.ServerConfig, f *fleet.Fleet, catalog *firmware.Catalog, tlsConfig *tls.Config) *Server {
	s := &Server{
		cfg:              cfg,
		fleet:            f,
		catalog:          catalog,
		verifier:         provision.NewVerifier(cfg.ProvisioningToken),
		localIP:          outboundIP(),
		progressInterval: 250 * time.Millisecond,
		tlsConfig:        tlsConfig,
		activeConns:      make(map[string]net.Conn),
	}
	s.metrics = newMetrics(f)
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Fleet returns the fleet the server feeds.
func (s *Server) Fleet() *fleet.Fleet {
	return s.fleet
}

// PublicURL is the base URL handed to devices.
func (s *Server) PublicURL() string {
	return s.cfg.PublicURL(s.localIP)
}

// Start listens, advertises the service and blocks until a shutdown signal
// or a listener error.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddr()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         s.trackConn,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	fields := []zap.Field{
		zap.String("addr", addr),
		zap.String("public_url", s.PublicURL()),
		zap.String("firmware_version", s.catalog.Version()),
		zap.Bool("require_approval", s.cfg.RequireApproval),
		zap.Bool("provisioning", s.verifier.Enabled()),
		zap.Bool("tls", s.tlsConfig != nil),
	}
	if img, ok := s.catalog.Current(); ok {
		fields = append(fields, zap.String("firmware", img.Name), zap.String("size", img.SizeLabel))
	} else {
		logging.Warn("No firmware image yet; upload one or drop a .bin into the firmware directory",
			zap.String("dir", s.catalog.Dir()))
	}
	logging.Info("Starting OTA server", fields...)

	if s.catalog.Dir() != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.catalog.Watch(ctx, nil); err != nil {
				logging.Warn("Firmware directory watch disabled", zap.Error(err))
			}
		}()
	}

	if s.cfg.MDNS.Enabled {
		advert, err := discovery.Register(discovery.Service{
			Instance: s.cfg.MDNS.Instance,
			Port:     s.cfg.Port,
			Version:  s.catalog.Version(),
		})
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.advert = advert
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(listener)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(ctx)
	case err := <-errChan:
		s.stopBackground()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting requests, withdraws the mDNS advertisement and
// waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	s.stopBackground()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
			_ = s.httpServer.Close()
		} else {
			logging.Info("All connections closed gracefully")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Background tasks did not stop before timeout")
	}

	logging.Sync()
	return nil
}

func (s *Server) stopBackground() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.advert != nil {
		s.advert.Shutdown()
		s.advert = nil
	}
}

// trackConn records open client connections for GetActiveConnections.
func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	remoteAddr := conn.RemoteAddr().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case http.StateNew:
		s.activeConns[remoteAddr] = conn
		logging.LogConnection(remoteAddr, "connection_accepted")
	case http.StateHijacked:
		delete(s.activeConns, remoteAddr)
		logging.LogConnection(remoteAddr, "connection_upgraded")
	case http.StateClosed:
		delete(s.activeConns, remoteAddr)
		logging.LogConnection(remoteAddr, "connection_closed")
	}
}

// GetActiveConnections returns the number of open client connections.
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
