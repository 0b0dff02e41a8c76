package fleet

import (
	"time"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/logging"
)

// Fleet bundles the registry, the transfer tracker and the ingress counters
// behind the operations the server calls.
type Fleet struct {
	registry *Registry
	tracker  *Tracker
	stats    Stats
	clock    Clock
}

// New creates an empty fleet. A nil clock uses time.Now.
func New(clock Clock) *Fleet {
	return &Fleet{
		registry: NewRegistry(clock),
		tracker:  NewTracker(clock),
		clock:    clock,
	}
}

// Registry returns the underlying device registry.
func (f *Fleet) Registry() *Registry { return f.registry }

// Tracker returns the underlying transfer tracker.
func (f *Fleet) Tracker() *Tracker { return f.tracker }

// Observe records a device contact and returns the merged record.
func (f *Fleet) Observe(obs Observation) (Record, error) {
	rec, err := f.registry.Observe(obs)
	if err != nil {
		return Record{}, err
	}
	f.stats.recordObservation(obs.Kind)
	logging.LogObservation(string(obs.Kind), rec.Key(), rec.Identity.IP, rec.Approval.String())
	return rec, nil
}

// Act applies an operator decision to the device identified by mac.
func (f *Fleet) Act(mac string, action Action) ActionResult {
	res := f.registry.Act(mac, action)
	logging.LogOperatorAction(mac, string(action), res.OK, res.Reason)
	return res
}

// Lookup returns the record stored under key.
func (f *Fleet) Lookup(key string) (Record, bool) {
	return f.registry.Lookup(key)
}

// KeyFor resolves the canonical key for a contact without recording it.
func (f *Fleet) KeyFor(mac, ip string) string {
	return f.registry.KeyFor(mac, ip)
}

// StartTransfer begins tracking a download for key and returns its ID.
func (f *Fleet) StartTransfer(key string, totalBytes int64) string {
	id := f.tracker.StartTransfer(key, totalBytes)
	f.stats.downloadStarted()
	logging.LogTransfer(key, id, "started", 0, totalBytes)
	return id
}

// ReportProgress updates the byte count of the download for key. Reports for
// keys without an active transfer are ignored.
func (f *Fleet) ReportProgress(key string, bytesDownloaded int64) bool {
	return f.tracker.ReportProgress(key, bytesDownloaded)
}

// CompleteTransfer ends the download attempt id for key and counts it as
// completed. Duplicate completions are ignored.
func (f *Fleet) CompleteTransfer(key, id string) bool {
	tr, _ := f.tracker.Get(key)
	if !f.tracker.EndTransferAttempt(key, id) {
		logging.Debug("Ignoring completion for inactive transfer",
			zap.String("key", key),
			zap.String("transfer_id", id),
		)
		return false
	}
	f.stats.downloadCompleted()
	logging.LogTransfer(key, id, "completed", tr.BytesTotal, tr.BytesTotal)
	return true
}

// AbortTransfer ends the download attempt id for key without counting it.
func (f *Fleet) AbortTransfer(key, id string) bool {
	tr, _ := f.tracker.Get(key)
	if !f.tracker.EndTransferAttempt(key, id) {
		return false
	}
	logging.LogTransfer(key, id, "aborted", tr.BytesDownloaded, tr.BytesTotal)
	return true
}

// EndTransfer drops whatever transfer is active for key. It is always safe
// to call.
func (f *Fleet) EndTransfer(key string) bool {
	return f.tracker.EndTransfer(key)
}

// Counters returns the ingress counters.
func (f *Fleet) Counters() Counters {
	return f.stats.Counters()
}

// Snapshot builds the current fleet view with counters attached.
func (f *Fleet) Snapshot() Snapshot {
	snap := BuildSnapshot(f.registry, f.tracker)
	snap.Counters = f.stats.Counters()
	snap.GeneratedAt = f.now()
	return snap
}

func (f *Fleet) now() time.Time {
	return f.clock.now()
}
