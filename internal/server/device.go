package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/fleet"
	"github.com/muurk/otafleet/internal/logging"
	"github.com/muurk/otafleet/internal/provision"
)

// handleVersionCheck answers GET /version.json. A device that just finished
// an update reports its new version in v.
func (s *Server) handleVersionCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	obs := fleet.Observation{
		Kind: fleet.KindVersionCheck,
		MAC:  q.Get("mac"),
		IP:   clientIP(r),
	}
	if v := q.Get("v"); v != "" {
		obs.Firmware = &fleet.Firmware{AppName: q.Get("app"), AppVersion: v}
	}

	if _, err := s.fleet.Observe(obs); err != nil {
		logging.Warn("Dropped version check", zap.String("ip", obs.IP), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, api.VersionResponse{Version: s.catalog.Version()})
}

// handleValidateToken answers POST /validate-token, the OTA request.
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.StatusResponse{Status: api.StatusError, Reason: "invalid-json"})
		return
	}
	if strings.TrimSpace(req.MAC) == "" {
		writeJSON(w, http.StatusBadRequest, api.StatusResponse{Status: api.StatusError, Reason: "missing-mac"})
		return
	}

	ip := clientIP(r)
	hasKey, err := s.verifier.Verify(req.MAC, req.TokenHash)
	if errors.Is(err, provision.ErrTokenMismatch) {
		s.metrics.tokenMismatches.Inc()
		logging.Warn("Rejected OTA request with wrong provisioning key",
			zap.String("mac", req.MAC),
			zap.String("ip", ip),
		)
		writeJSON(w, http.StatusOK, api.StatusResponse{Status: api.StatusDenied, Reason: provision.ErrTokenMismatch.Error()})
		return
	}

	rec, err := s.fleet.Observe(fleet.Observation{
		Kind: fleet.KindOTARequest,
		MAC:  req.MAC,
		IP:   ip,
		Hardware: &fleet.Hardware{
			Chip:    req.Chip,
			Cores:   req.Cores,
			FlashKB: req.FlashKB,
		},
		Firmware: &fleet.Firmware{
			AppName:    req.AppName,
			AppVersion: req.AppVersion,
		},
		HasProvisioningKey: hasKey,
	})
	if err != nil {
		logging.Warn("Dropped OTA request", zap.String("ip", ip), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, api.StatusResponse{Status: api.StatusError, Reason: err.Error()})
		return
	}

	if rec.Approval.IsPending() {
		logging.Info("Device waiting for operator approval",
			zap.String("mac", rec.Key()),
			zap.String("approval", rec.Approval.String()),
			zap.String("dashboard", s.PublicURL()+"/api/snapshot"),
		)
	}
	writeJSON(w, http.StatusOK, s.statusFor(rec))
}

// handleTokenStatus answers GET /token-status, polled by devices waiting for
// approval.
func (s *Server) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	mac := fleet.NormalizeMAC(r.URL.Query().Get("mac"))
	if mac == "" {
		writeJSON(w, http.StatusBadRequest, api.StatusResponse{Status: api.StatusError, Reason: "missing-mac"})
		return
	}

	rec, ok := s.fleet.Lookup(mac)
	if !ok || rec.Identity.MAC == "" {
		writeJSON(w, http.StatusOK, api.StatusResponse{Status: api.StatusUnknown})
		return
	}
	writeJSON(w, http.StatusOK, s.statusFor(rec))
}

// handleLegacyCheck answers the combined POST / check. Older firmware does
// not carry a provisioning hash, so the request counts as provisioned.
func (s *Server) handleLegacyCheck(w http.ResponseWriter, r *http.Request) {
	var req api.LegacyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-json")
		return
	}
	mac := r.Header.Get("Device-Id")
	if mac == "" {
		mac = req.MAC
	}
	if strings.TrimSpace(mac) == "" {
		writeError(w, http.StatusBadRequest, "missing mac/Device-Id")
		return
	}

	rec, err := s.fleet.Observe(fleet.Observation{
		Kind: fleet.KindOTARequest,
		MAC:  mac,
		IP:   clientIP(r),
		Hardware: &fleet.Hardware{
			Chip:    req.Chip,
			Cores:   req.Cores,
			FlashKB: req.FlashKB,
		},
		Firmware: &fleet.Firmware{
			AppName:    req.AppName,
			AppVersion: req.Version,
		},
		HasProvisioningKey: true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := s.statusFor(rec)
	writeJSON(w, http.StatusOK, api.LegacyCheckResponse{
		Firmware: api.LegacyFirmware{Version: s.catalog.Version(), URL: st.FirmwareURL},
		Status:   st.Status,
	})
}

// statusFor builds the device status body. A device that may download is
// told it is approved and given the firmware URL.
func (s *Server) statusFor(rec fleet.Record) api.StatusResponse {
	if s.mayDownload(rec) {
		return api.StatusResponse{Status: api.StatusApproved, FirmwareURL: s.firmwareURL()}
	}
	return api.StatusResponse{Status: api.DeviceStatus(rec.Approval)}
}

// firmwareURL is the public download URL of the current image, or empty when
// there is none.
func (s *Server) firmwareURL() string {
	img, ok := s.catalog.Current()
	if !ok {
		return ""
	}
	return s.PublicURL() + "/" + img.Name
}

// mayDownload reports whether rec passes the approval gate. Denied devices
// are always refused; without require_approval everything else passes.
func (s *Server) mayDownload(rec fleet.Record) bool {
	switch rec.Approval.State() {
	case fleet.StateApproved:
		return true
	case fleet.StateDenied:
		return false
	default:
		return !s.cfg.RequireApproval
	}
}
