// Package fleet reconciles device observations into a single registry of
// devices, gates firmware delivery behind operator approval, and tracks
// in-flight firmware transfers.
//
// Devices reach the service in two ways: an OTA request (the device wants
// firmware and reports its MAC, chip, flash size and running application)
// and a version check (the device only asks for the latest version and is
// known only by its IP address). Both streams are merged into one Record per
// device, keyed by MAC when known and by IP otherwise.
//
// # Components
//
//   - IdentityResolver: maps an Observation to a canonical key and decides
//     whether an IP-keyed record must be folded into a MAC-keyed one.
//   - Registry: the key -> Record map. Sole owner of approval state.
//   - Approval state machine: OnOTARequest and OnOperatorAction are the
//     only functions that produce a new Approval.
//   - Tracker: key -> Transfer progress for active downloads.
//   - BuildSnapshot: an ordered, immutable view for dashboards and the API.
//
// # Approval states
//
//	Unregistered --ota request (key)----> Pending(Standard)      --> Approved | Denied
//	Unregistered --ota request (no key)-> Pending(Unprovisioned) --> Approved | Denied
//	Approved <--> Denied
//
// Repeated OTA requests never move a record out of Pending, Approved or
// Denied; only an operator can.
//
// # Concurrency
//
// Registry and Tracker serialize writers with a mutex and publish an
// immutable view after every mutation through an atomic pointer. Readers
// (snapshots, lookups, key resolution for downloads) load the view and never
// take the writer lock. Re-keying an IP record into a MAC record happens in a
// single critical section, so no view ever contains both records.
//
// # Usage
//
//	f := fleet.New(nil)
//	rec, err := f.Observe(fleet.Observation{
//	    Kind:               fleet.KindOTARequest,
//	    MAC:                "AA:BB:CC:DD:EE:FF",
//	    IP:                 "10.0.0.5",
//	    Hardware:           &fleet.Hardware{Chip: "ESP32-S3", Cores: 2, FlashKB: 8192},
//	    HasProvisioningKey: true,
//	})
//	if err == nil && rec.Approval.State() == fleet.StateApproved {
//	    // serve firmware
//	}
//
//	res := f.Act("AA:BB:CC:DD:EE:FF", fleet.ActionApprove)
//	snap := f.Snapshot()
package fleet
