// Package api defines the JSON bodies exchanged between devices, the OTA
// server and the operator CLI.
package api

import (
	"github.com/muurk/otafleet/internal/firmware"
	"github.com/muurk/otafleet/internal/fleet"
)

// Device-facing approval statuses.
const (
	StatusUnknown  = "unknown"
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusError    = "error"
)

// DeviceStatus maps an approval to the status string devices poll for.
func DeviceStatus(a fleet.Approval) string {
	switch a.State() {
	case fleet.StatePending:
		return StatusPending
	case fleet.StateApproved:
		return StatusApproved
	case fleet.StateDenied:
		return StatusDenied
	default:
		return StatusUnknown
	}
}

// VersionResponse answers GET /version.json.
type VersionResponse struct {
	Version string `json:"version"`
}

// ValidateTokenRequest is the body of POST /validate-token.
type ValidateTokenRequest struct {
	MAC        string `json:"mac"`
	TokenHash  string `json:"token_hash"`
	Chip       string `json:"chip,omitempty"`
	Cores      int    `json:"cores,omitempty"`
	FlashKB    int    `json:"flash_kb,omitempty"`
	AppName    string `json:"app_name,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	IDFVersion string `json:"idf_version,omitempty"`
}

// StatusResponse answers POST /validate-token and GET /token-status.
type StatusResponse struct {
	Status      string `json:"status"`
	FirmwareURL string `json:"firmware_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// LegacyCheckRequest is the body of the combined POST / check.
type LegacyCheckRequest struct {
	MAC     string `json:"mac"`
	Version string `json:"version"`
	Chip    string `json:"chip,omitempty"`
	Cores   int    `json:"cores,omitempty"`
	FlashKB int    `json:"flash_kb,omitempty"`
	AppName string `json:"app_name,omitempty"`
}

// LegacyFirmware describes the offered image in a LegacyCheckResponse.
type LegacyFirmware struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Force   int    `json:"force"`
}

// LegacyCheckResponse answers POST /.
type LegacyCheckResponse struct {
	Firmware LegacyFirmware `json:"firmware"`
	Status   string         `json:"status"`
}

// ActionRequest is the body of the operator approve/deny endpoints.
type ActionRequest struct {
	MAC    string `json:"mac"`
	Action string `json:"action,omitempty"`
}

// ActionResponse reports the outcome of an operator action.
type ActionResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SetVersionRequest is the body of POST /api/set-version.
type SetVersionRequest struct {
	Version string `json:"version"`
}

// SetVersionResponse answers POST /api/set-version.
type SetVersionResponse struct {
	OK  bool   `json:"ok"`
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`
}

// UploadResponse answers POST /api/upload-firmware.
type UploadResponse struct {
	OK      bool   `json:"ok"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Size    string `json:"size,omitempty"`
	MD5     string `json:"md5,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ServerInfo describes the server in a snapshot.
type ServerInfo struct {
	Address         string `json:"address"`
	FirmwareVersion string `json:"firmware_version"`
	BuildVersion    string `json:"build_version"`
	RequireApproval bool   `json:"require_approval"`
	Provisioning    bool   `json:"provisioning"`
}

// SnapshotResponse answers GET /api/snapshot and is pushed over /ws.
type SnapshotResponse struct {
	fleet.Snapshot
	Server   ServerInfo      `json:"server"`
	Firmware *firmware.Image `json:"firmware,omitempty"`
}

// Live message types.
const (
	LiveSnapshot = "snapshot"
	LiveRefresh  = "refresh"
	LiveError    = "error"
)

// LiveMessage is one frame on the /ws feed.
type LiveMessage struct {
	Type     string            `json:"type"`
	Session  string            `json:"session,omitempty"`
	Snapshot *SnapshotResponse `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ErrorResponse is returned with non-2xx statuses that carry no richer body.
type ErrorResponse struct {
	Error string `json:"error"`
}
