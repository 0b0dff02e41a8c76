package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/firmware"
	"github.com/muurk/otafleet/internal/fleet"
	"github.com/muurk/otafleet/internal/logging"
	"github.com/muurk/otafleet/internal/version"
)

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleOperatorAction(w, r, fleet.ActionApprove)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.handleOperatorAction(w, r, fleet.ActionDeny)
}

// handleAction is the generic form taking the action in the body.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	s.handleOperatorAction(w, r, "")
}

func (s *Server) handleOperatorAction(w http.ResponseWriter, r *http.Request, action fleet.Action) {
	var req api.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ActionResponse{Reason: "invalid-json"})
		return
	}

	if action == "" {
		parsed, err := fleet.ParseAction(req.Action)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, api.ActionResponse{Reason: err.Error()})
			return
		}
		action = parsed
	}

	res := s.fleet.Act(req.MAC, action)
	s.metrics.recordAction(action, res)

	if !res.OK {
		writeJSON(w, actionStatusCode(res.Reason), api.ActionResponse{Reason: res.Reason})
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{OK: true, Status: api.DeviceStatus(res.Approval)})
}

// actionStatusCode maps a rejection reason to an HTTP status.
func actionStatusCode(reason string) int {
	switch reason {
	case fleet.ErrUnknownDevice.Error():
		return http.StatusNotFound
	case fleet.ErrInvalidTarget.Error(), fleet.ErrInvalidAction.Error():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleSnapshot serves the fleet view consumed by dashboards.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() api.SnapshotResponse {
	resp := api.SnapshotResponse{
		Snapshot: s.fleet.Snapshot(),
		Server: api.ServerInfo{
			Address:         s.PublicURL(),
			FirmwareVersion: s.catalog.Version(),
			BuildVersion:    version.Version,
			RequireApproval: s.cfg.RequireApproval,
			Provisioning:    s.verifier.Enabled(),
		},
	}
	if img, ok := s.catalog.Current(); ok {
		resp.Firmware = img
	}
	return resp
}

func (s *Server) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	var req api.SetVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-json")
		return
	}

	old, err := s.catalog.SetVersion(req.Version)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logging.Info("Firmware version updated",
		zap.String("old", old),
		zap.String("new", s.catalog.Version()),
	)
	writeJSON(w, http.StatusOK, api.SetVersionResponse{OK: true, Old: old, New: s.catalog.Version()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{Reason: "invalid upload: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{Reason: "missing file"})
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".bin") {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{Reason: "only .bin files allowed"})
		return
	}

	img, err := s.catalog.Install(header.Filename, file, r.FormValue("version"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, firmware.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		logging.Error("Firmware upload failed", zap.String("file", header.Filename), zap.Error(err))
		writeJSON(w, status, api.UploadResponse{Reason: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, api.UploadResponse{
		OK:      true,
		Name:    img.Name,
		Version: s.catalog.Version(),
		Size:    img.SizeLabel,
		MD5:     img.MD5,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"devices": s.fleet.Registry().Len(),
	})
}
