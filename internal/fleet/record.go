package fleet

import "time"

// Record is the merged view of one device. Records held by the registry are
// never modified in place; every mutation stores a fresh copy.
type Record struct {
	Identity          Identity  `json:"identity"`
	Hardware          *Hardware `json:"hardware,omitempty"`
	Firmware          *Firmware `json:"firmware,omitempty"`
	Approval          Approval  `json:"approval"`
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	VersionCheckCount int       `json:"version_check_count"`
}

// Key returns the canonical registry key.
func (r Record) Key() string {
	return r.Identity.Key()
}

// clone returns a deep copy safe to modify or hand out.
func (r *Record) clone() *Record {
	c := *r
	if r.Hardware != nil {
		h := *r.Hardware
		c.Hardware = &h
	}
	if r.Firmware != nil {
		f := *r.Firmware
		c.Firmware = &f
	}
	return &c
}

// absorb folds an IP-keyed record into r during re-keying.
func (r *Record) absorb(old *Record) {
	r.VersionCheckCount += old.VersionCheckCount
	if old.LastSeenAt.After(r.LastSeenAt) {
		r.LastSeenAt = old.LastSeenAt
	}
	if r.FirstSeenAt.IsZero() || (!old.FirstSeenAt.IsZero() && old.FirstSeenAt.Before(r.FirstSeenAt)) {
		r.FirstSeenAt = old.FirstSeenAt
	}
	r.Approval = mergeApproval(r.Approval, old.Approval)
	if r.Hardware == nil && old.Hardware != nil {
		h := *old.Hardware
		r.Hardware = &h
	}
	if r.Firmware == nil && old.Firmware != nil {
		f := *old.Firmware
		r.Firmware = &f
	}
}

// mergeFirmware applies a reported firmware over the stored one. Version
// checks only carry the version, so an empty app name keeps the stored one.
func mergeFirmware(stored *Firmware, reported Firmware) *Firmware {
	if reported.AppName == "" && stored != nil {
		reported.AppName = stored.AppName
	}
	return &reported
}
