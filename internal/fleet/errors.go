package fleet

import "errors"

// UnresolvedMAC is the placeholder shown for devices that never reported a
// MAC. Operator actions addressed to it are rejected.
const UnresolvedMAC = "-"

var (
	// ErrInvalidTarget is returned for operator actions on a device that
	// cannot be identified (no MAC).
	ErrInvalidTarget = errors.New("invalid-target")

	// ErrUnknownDevice is returned for operator actions on a key the
	// registry has never seen.
	ErrUnknownDevice = errors.New("not-found")

	// ErrInvalidAction is returned for operator actions other than approve
	// or deny.
	ErrInvalidAction = errors.New("invalid-action")

	// ErrMalformedObservation is returned for observations missing required
	// identity fields. The observation is dropped.
	ErrMalformedObservation = errors.New("malformed observation")
)

// ActionResult is the structured outcome of an operator action.
type ActionResult struct {
	OK       bool     `json:"ok"`
	Reason   string   `json:"reason,omitempty"`
	Approval Approval `json:"approval"`
}

func rejected(err error) ActionResult {
	return ActionResult{OK: false, Reason: err.Error()}
}
