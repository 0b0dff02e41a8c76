package fleet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// speedWindow is the number of samples the speed average spans.
const speedWindow = 3

// Transfer is the progress of one active firmware download.
type Transfer struct {
	ID              string    `json:"id"`
	Key             string    `json:"key"`
	Percent         int       `json:"percent"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	BytesTotal      int64     `json:"bytes_total"`
	BytesPerSecond  float64   `json:"bytes_per_second"`
	SpeedLabel      string    `json:"speed"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type transferState struct {
	Transfer
	sampledBytes int64
	sampledAt    time.Time
	samples      int
}

// Tracker holds progress for active transfers keyed by canonical device key.
// Absence of an entry means no transfer is running for that device.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*transferState
	clock  Clock

	view atomic.Pointer[map[string]Transfer]
}

// NewTracker creates an empty tracker. A nil clock uses time.Now.
func NewTracker(clock Clock) *Tracker {
	t := &Tracker{
		active: make(map[string]*transferState),
		clock:  clock,
	}
	t.publish()
	return t
}

// StartTransfer registers a new transfer attempt for key and returns its ID.
// A transfer already running for key is replaced.
func (t *Tracker) StartTransfer(key string, totalBytes int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.now()
	id := uuid.NewString()
	t.active[key] = &transferState{
		Transfer: Transfer{
			ID:         id,
			Key:        key,
			BytesTotal: totalBytes,
			SpeedLabel: FormatSpeed(0),
			StartedAt:  now,
			UpdatedAt:  now,
		},
		sampledAt: now,
	}
	t.publish()
	return id
}

// ReportProgress records the cumulative byte count for key. It reports false
// when no transfer is active for key; that case is a no-op.
func (t *Tracker) ReportProgress(key string, bytesDownloaded int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.active[key]
	if !ok {
		return false
	}

	next := *st
	now := t.clock.now()
	next.BytesDownloaded = bytesDownloaded
	next.Percent = percentOf(bytesDownloaded, next.BytesTotal)
	next.UpdatedAt = now

	if dt := now.Sub(next.sampledAt).Seconds(); dt > 0 {
		rate := float64(bytesDownloaded-next.sampledBytes) / dt
		if rate < 0 {
			rate = 0
		}
		next.BytesPerSecond = smoothRate(next.BytesPerSecond, rate, next.samples)
		next.SpeedLabel = FormatSpeed(next.BytesPerSecond)
		next.sampledBytes = bytesDownloaded
		next.sampledAt = now
		next.samples++
	}

	t.active[key] = &next
	t.publish()
	return true
}

// EndTransfer removes the transfer for key. Ending an absent transfer is a
// no-op and reports false, which covers duplicate completion or cancel
// signals.
func (t *Tracker) EndTransfer(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[key]; !ok {
		return false
	}
	delete(t.active, key)
	t.publish()
	return true
}

// EndTransferAttempt removes the transfer for key only if it is still the
// attempt identified by id, so a stale stream cannot end a newer one.
func (t *Tracker) EndTransferAttempt(key, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.active[key]
	if !ok || st.ID != id {
		return false
	}
	delete(t.active, key)
	t.publish()
	return true
}

// Get returns the active transfer for key.
func (t *Tracker) Get(key string) (Transfer, bool) {
	tr, ok := (*t.view.Load())[key]
	return tr, ok
}

// Active returns the published map of active transfers. Callers must treat it
// as read-only.
func (t *Tracker) Active() map[string]Transfer {
	return *t.view.Load()
}

// Len returns the number of active transfers.
func (t *Tracker) Len() int {
	return len(*t.view.Load())
}

func (t *Tracker) publish() {
	m := make(map[string]Transfer, len(t.active))
	for k, st := range t.active {
		m[k] = st.Transfer
	}
	t.view.Store(&m)
}

// percentOf returns floor(done/total*100) clamped to [0,100].
func percentOf(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}

// smoothRate is an exponential moving average over roughly speedWindow
// samples. The first sample seeds the average.
func smoothRate(prev, sample float64, samples int) float64 {
	if samples == 0 {
		return sample
	}
	const alpha = 2.0 / (speedWindow + 1)
	return alpha*sample + (1-alpha)*prev
}
