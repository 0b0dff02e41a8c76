package fleet

import "sync/atomic"

// Stats holds the monotonically increasing counters incremented by the
// ingress points.
type Stats struct {
	versionChecks      atomic.Uint64
	otaRequests        atomic.Uint64
	startedDownloads   atomic.Uint64
	completedDownloads atomic.Uint64
}

// Counters is a point-in-time copy of Stats.
type Counters struct {
	VersionChecks      uint64 `json:"version_checks"`
	OTARequests        uint64 `json:"ota_requests"`
	StartedDownloads   uint64 `json:"started_downloads"`
	CompletedDownloads uint64 `json:"completed_downloads"`
}

func (s *Stats) recordObservation(kind Kind) {
	switch kind {
	case KindVersionCheck:
		s.versionChecks.Add(1)
	case KindOTARequest:
		s.otaRequests.Add(1)
	}
}

func (s *Stats) downloadStarted()   { s.startedDownloads.Add(1) }
func (s *Stats) downloadCompleted() { s.completedDownloads.Add(1) }

// Counters returns the current counter values.
func (s *Stats) Counters() Counters {
	return Counters{
		VersionChecks:      s.versionChecks.Load(),
		OTARequests:        s.otaRequests.Load(),
		StartedDownloads:   s.startedDownloads.Load(),
		CompletedDownloads: s.completedDownloads.Load(),
	}
}
