package server

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/logging"
)

// maxUploadSize bounds multipart firmware uploads.
const maxUploadSize = 64 << 20

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Device-facing
	r.Get("/version.json", s.handleVersionCheck)
	r.Post("/validate-token", s.handleValidateToken)
	r.Get("/token-status", s.handleTokenStatus)
	r.Post("/", s.handleLegacyCheck)
	r.Get("/firmware.bin", s.handleFirmware)
	r.Get("/{name:[^/]+\\.bin}", s.handleFirmwareByName)

	// Operator
	r.Post("/approve-device", s.handleApprove)
	r.Post("/deny-device", s.handleDeny)
	r.Route("/api", func(ar chi.Router) {
		ar.Post("/approve-device", s.handleApprove)
		ar.Post("/deny-device", s.handleDeny)
		ar.Post("/action", s.handleAction)
		ar.Get("/snapshot", s.handleSnapshot)
		ar.Get("/data", s.handleSnapshot)
		ar.Post("/set-version", s.handleSetVersion)
		ar.Post("/upload-firmware", s.handleUpload)
	})
	r.Get("/ws", s.handleLive)

	r.Handle("/metrics", s.metrics.handler())
	r.Get("/healthz", s.handleHealth)

	return r
}

// requestLogger logs each request through the zap helpers.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

// clientIP returns the request's origin address without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// outboundIP returns the address other hosts on the LAN reach us at.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
