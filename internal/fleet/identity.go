package fleet

// keyIndex is the read-only state the resolver consults.
type keyIndex interface {
	// record returns the record stored under key.
	record(key string) (*Record, bool)
	// macKeyForIP returns the MAC-keyed record whose last known IP is ip.
	macKeyForIP(ip string) (string, bool)
}

// Resolution is the outcome of resolving an observation's identity.
type Resolution struct {
	// Key is the canonical key the observation belongs to.
	Key string
	// Absorb names an IP-keyed record that must be merged into Key and
	// removed. Empty when there is nothing to merge.
	Absorb string
	// Create is true when no record exists under Key yet.
	Create bool
}

// IdentityResolver decides which record an observation belongs to. It has no
// side effects; the registry performs the merge it describes.
type IdentityResolver struct{}

// Resolve applies the resolution policy:
//
//  1. With a MAC, the key is the MAC. A version-check-only record keyed by
//     the observation's IP is absorbed.
//  2. Without a MAC, a MAC-keyed record last seen at the same IP receives the
//     observation; otherwise the key is the IP.
//
// A version check that names a MAC the registry has never seen is resolved
// as if the MAC were absent: only OTA requests may introduce MAC records.
func (IdentityResolver) Resolve(idx keyIndex, obs Observation) Resolution {
	mac := obs.MAC
	if mac != "" && obs.Kind == KindVersionCheck {
		if _, known := idx.record(mac); !known {
			mac = ""
		}
	}

	if mac != "" {
		_, exists := idx.record(mac)
		res := Resolution{Key: mac, Create: !exists}
		if ipRec, ok := idx.record(obs.IP); ok && ipRec.Identity.MAC == "" {
			res.Absorb = obs.IP
		}
		return res
	}

	if key, ok := idx.macKeyForIP(obs.IP); ok {
		return Resolution{Key: key}
	}

	_, exists := idx.record(obs.IP)
	return Resolution{Key: obs.IP, Create: !exists}
}

// index is a key -> record map plus the IP -> MAC key secondary index.
type index struct {
	records map[string]*Record
	byIP    map[string]string
}

func newIndex() index {
	return index{
		records: make(map[string]*Record),
		byIP:    make(map[string]string),
	}
}

func (ix index) record(key string) (*Record, bool) {
	r, ok := ix.records[key]
	return r, ok
}

func (ix index) macKeyForIP(ip string) (string, bool) {
	k, ok := ix.byIP[ip]
	return k, ok
}

func (ix index) copy() index {
	c := index{
		records: make(map[string]*Record, len(ix.records)),
		byIP:    make(map[string]string, len(ix.byIP)),
	}
	for k, v := range ix.records {
		c.records[k] = v
	}
	for k, v := range ix.byIP {
		c.byIP[k] = v
	}
	return c
}
