package fleet

import (
	"sort"
	"strings"
	"time"
)

// DisplayStatus is the presentation label derived for a device.
type DisplayStatus string

const (
	StatusDownloading          DisplayStatus = "downloading"
	StatusAwaitingProvisioning DisplayStatus = "awaiting provisioning"
	StatusAwaitingApproval     DisplayStatus = "awaiting approval"
	StatusApproved             DisplayStatus = "approved"
	StatusDenied               DisplayStatus = "denied"
	StatusVersionCheckOnly     DisplayStatus = "version-check only"
)

// Awaiting reports whether the status asks for an operator decision.
func (s DisplayStatus) Awaiting() bool {
	return strings.HasPrefix(string(s), "awaiting")
}

// Placeholders for fields a device never reported.
const (
	placeholderMAC     = UnresolvedMAC
	placeholderUnknown = "?"
)

// DeviceView is one row of a FleetSnapshot. Missing observation fields are
// rendered as placeholders, never omitted.
type DeviceView struct {
	Key           string        `json:"key"`
	MAC           string        `json:"mac"`
	IP            string        `json:"ip"`
	Chip          string        `json:"chip"`
	Cores         int           `json:"cores"`
	FlashKB       int           `json:"flash_kb"`
	AppName       string        `json:"app_name"`
	AppVersion    string        `json:"app_version"`
	Status        DisplayStatus `json:"status"`
	Approval      Approval      `json:"approval"`
	Actionable    bool          `json:"actionable"`
	VersionChecks int           `json:"version_checks"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastSeenAt    time.Time     `json:"last_seen_at"`
	Transfer      *Transfer     `json:"transfer,omitempty"`
}

// Snapshot is an immutable, ordered view of the fleet.
type Snapshot struct {
	Devices            []DeviceView `json:"devices"`
	HasPendingApproval bool         `json:"has_pending_approval"`
	Counters           Counters     `json:"counters"`
	GeneratedAt        time.Time    `json:"generated_at"`
}

// BuildSnapshot combines the registry and the tracker into a Snapshot. It
// never fails and never blocks writers.
func BuildSnapshot(reg *Registry, tr *Tracker) Snapshot {
	return buildSnapshot(reg.snapshotRecords(), tr.Active())
}

func buildSnapshot(records []*Record, transfers map[string]Transfer) Snapshot {
	devices := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		devices = append(devices, viewOf(rec, transfers))
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Status.Awaiting() && !devices[j].Status.Awaiting()
	})

	pending := len(devices) > 0 && devices[0].Status.Awaiting()
	return Snapshot{Devices: devices, HasPendingApproval: pending}
}

func viewOf(rec *Record, transfers map[string]Transfer) DeviceView {
	v := DeviceView{
		Key:           rec.Key(),
		MAC:           placeholderMAC,
		IP:            rec.Identity.IP,
		Chip:          placeholderUnknown,
		AppName:       placeholderUnknown,
		AppVersion:    placeholderUnknown,
		Approval:      rec.Approval,
		Actionable:    rec.Identity.Resolvable(),
		VersionChecks: rec.VersionCheckCount,
		FirstSeenAt:   rec.FirstSeenAt,
		LastSeenAt:    rec.LastSeenAt,
	}
	if rec.Identity.MAC != "" {
		v.MAC = rec.Identity.MAC
	}
	if v.IP == "" {
		v.IP = placeholderMAC
	}
	if h := rec.Hardware; h != nil {
		if h.Chip != "" {
			v.Chip = h.Chip
		}
		v.Cores = h.Cores
		v.FlashKB = h.FlashKB
	}
	if f := rec.Firmware; f != nil {
		if f.AppName != "" {
			v.AppName = f.AppName
		}
		if f.AppVersion != "" {
			v.AppVersion = f.AppVersion
		}
	}

	if tr, ok := transfers[v.Key]; ok {
		t := tr
		v.Transfer = &t
		v.Status = StatusDownloading
	} else {
		v.Status = statusOf(rec.Approval)
	}
	return v
}

func statusOf(a Approval) DisplayStatus {
	switch a.State() {
	case StatePending:
		if kind, _ := a.Kind(); kind == PendingUnprovisioned {
			return StatusAwaitingProvisioning
		}
		return StatusAwaitingApproval
	case StateApproved:
		return StatusApproved
	case StateDenied:
		return StatusDenied
	default:
		return StatusVersionCheckOnly
	}
}
