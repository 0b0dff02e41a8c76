package fleet

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/logging"
)

// registryView is an immutable point-in-time copy of the registry.
type registryView struct {
	index
	// ordered holds records in insertion order.
	ordered []*Record
}

// Registry is the process-wide map of canonical key -> Record.
//
// Writers are serialized by mu. After each mutation a new registryView is
// published, so readers never wait on writers and never see a re-key half
// applied.
type Registry struct {
	mu       sync.Mutex
	live     index
	order    []string
	resolver IdentityResolver
	clock    Clock

	view atomic.Pointer[registryView]
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(clock Clock) *Registry {
	r := &Registry{
		live:  newIndex(),
		clock: clock,
	}
	r.publish()
	return r
}

// Observe merges a device contact into the registry and returns a copy of
// the resulting record. The caller uses the record's approval to decide
// whether to serve firmware.
func (r *Registry) Observe(obs Observation) (Record, error) {
	obs, err := obs.normalized()
	if err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.now()
	res := r.resolver.Resolve(r.live, obs)

	existing, existed := r.live.records[res.Key]
	var rec *Record
	if existed {
		rec = existing.clone()
	} else {
		rec = &Record{
			Identity:    Identity{IP: obs.IP},
			Approval:    Unregistered(),
			FirstSeenAt: now,
		}
		if res.Key != obs.IP {
			rec.Identity.MAC = res.Key
		}
	}

	placed := existed
	if res.Absorb != "" {
		if old, ok := r.live.records[res.Absorb]; ok {
			rec.absorb(old)
			delete(r.live.records, res.Absorb)
			if !existed {
				// The MAC record inherits the IP record's position.
				r.replaceOrder(res.Absorb, res.Key)
				placed = true
			} else {
				r.removeOrder(res.Absorb)
			}
			logging.Debug("Re-keyed device record",
				zap.String("from", res.Absorb),
				zap.String("to", res.Key),
				zap.Int("version_checks", rec.VersionCheckCount),
			)
		}
	}

	if rec.Identity.MAC != "" {
		r.moveIP(rec, obs.IP)
	}
	if obs.Hardware != nil {
		h := *obs.Hardware
		rec.Hardware = &h
	}
	if obs.Firmware != nil {
		rec.Firmware = mergeFirmware(rec.Firmware, *obs.Firmware)
	}

	switch obs.Kind {
	case KindOTARequest:
		rec.Approval = OnOTARequest(rec.Approval, obs.HasProvisioningKey)
	case KindVersionCheck:
		rec.VersionCheckCount++
	}

	if now.After(rec.LastSeenAt) {
		rec.LastSeenAt = now
	}

	if !placed {
		r.order = append(r.order, res.Key)
	}
	r.live.records[res.Key] = rec
	r.publish()

	return *rec.clone(), nil
}

// Act applies an operator decision to the device keyed by mac.
func (r *Registry) Act(mac string, action Action) ActionResult {
	mac = NormalizeMAC(mac)
	if mac == "" {
		return rejected(ErrInvalidTarget)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.live.records[mac]
	if !ok {
		return rejected(ErrUnknownDevice)
	}

	next, err := OnOperatorAction(current.Identity, current.Approval, action)
	if err != nil {
		return rejected(err)
	}

	rec := current.clone()
	rec.Approval = next
	r.live.records[mac] = rec
	r.publish()

	return ActionResult{OK: true, Approval: next}
}

// Lookup returns a copy of the record stored under key.
func (r *Registry) Lookup(key string) (Record, bool) {
	v := r.view.Load()
	if rec, ok := v.records[key]; ok {
		return *rec.clone(), true
	}
	if mac := NormalizeMAC(key); mac != key {
		if rec, ok := v.records[mac]; ok {
			return *rec.clone(), true
		}
	}
	return Record{}, false
}

// KeyFor resolves the canonical key for a contact without recording it. The
// download pipeline uses it to attribute transfers.
func (r *Registry) KeyFor(mac, ip string) string {
	obs := Observation{Kind: KindVersionCheck, MAC: NormalizeMAC(mac), IP: ip}
	return r.resolver.Resolve(r.view.Load().index, obs).Key
}

// Records returns copies of all records in insertion order.
func (r *Registry) Records() []Record {
	v := r.view.Load()
	out := make([]Record, len(v.ordered))
	for i, rec := range v.ordered {
		out[i] = *rec.clone()
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.view.Load().ordered)
}

// snapshotRecords returns the published records. Callers must not modify them.
func (r *Registry) snapshotRecords() []*Record {
	return r.view.Load().ordered
}

// moveIP points the IP index at rec and drops the stale mapping for its
// previous address. Caller holds mu.
func (r *Registry) moveIP(rec *Record, ip string) {
	key := rec.Identity.MAC
	if prev := rec.Identity.IP; prev != ip && r.live.byIP[prev] == key {
		delete(r.live.byIP, prev)
	}
	rec.Identity.IP = ip
	r.live.byIP[ip] = key
}

func (r *Registry) replaceOrder(oldKey, newKey string) {
	for i, k := range r.order {
		if k == oldKey {
			r.order[i] = newKey
			return
		}
	}
	r.order = append(r.order, newKey)
}

func (r *Registry) removeOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// publish stores a fresh immutable view. Caller holds mu (or is the
// constructor).
func (r *Registry) publish() {
	ordered := make([]*Record, 0, len(r.order))
	for _, k := range r.order {
		if rec, ok := r.live.records[k]; ok {
			ordered = append(ordered, rec)
		}
	}
	r.view.Store(&registryView{index: r.live.copy(), ordered: ordered})
}
