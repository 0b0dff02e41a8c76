package fleet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ApprovalState is the discriminant of Approval.
type ApprovalState uint8

const (
	StateUnregistered ApprovalState = iota
	StatePending
	StateApproved
	StateDenied
)

// String returns the wire name of the state.
func (s ApprovalState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StatePending:
		return "pending"
	case StateApproved:
		return "approved"
	case StateDenied:
		return "denied"
	default:
		return fmt.Sprintf("ApprovalState(%d)", s)
	}
}

// PendingKind distinguishes devices that presented a valid provisioning key
// from devices that have none yet.
type PendingKind uint8

const (
	PendingStandard PendingKind = iota
	PendingUnprovisioned
)

// String returns the wire name of the kind.
func (k PendingKind) String() string {
	switch k {
	case PendingStandard:
		return "standard"
	case PendingUnprovisioned:
		return "unprovisioned"
	default:
		return fmt.Sprintf("PendingKind(%d)", k)
	}
}

// Approval is the tagged union Unregistered | Pending(kind) | Approved | Denied.
// The zero value is Unregistered. Fields are unexported so a kind can only
// accompany the Pending state.
type Approval struct {
	state ApprovalState
	kind  PendingKind
}

// Unregistered is the state of records built only from version checks.
func Unregistered() Approval { return Approval{state: StateUnregistered} }

// Pending is the state of a device waiting for an operator decision.
func Pending(kind PendingKind) Approval { return Approval{state: StatePending, kind: kind} }

// Approved allows firmware delivery.
func Approved() Approval { return Approval{state: StateApproved} }

// Denied blocks firmware delivery.
func Denied() Approval { return Approval{state: StateDenied} }

// State returns the discriminant.
func (a Approval) State() ApprovalState { return a.state }

// Kind returns the pending kind; ok is false unless the state is Pending.
func (a Approval) Kind() (kind PendingKind, ok bool) {
	if a.state != StatePending {
		return 0, false
	}
	return a.kind, true
}

// IsPending reports whether an operator decision is outstanding.
func (a Approval) IsPending() bool { return a.state == StatePending }

// String renders "pending(unprovisioned)" style labels for logs.
func (a Approval) String() string {
	if a.state == StatePending {
		return fmt.Sprintf("pending(%s)", a.kind)
	}
	return a.state.String()
}

type approvalJSON struct {
	State string `json:"state"`
	Kind  string `json:"kind,omitempty"`
}

// MarshalJSON encodes as {"state":"pending","kind":"standard"}.
func (a Approval) MarshalJSON() ([]byte, error) {
	out := approvalJSON{State: a.state.String()}
	if a.state == StatePending {
		out.Kind = a.kind.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the MarshalJSON encoding.
func (a *Approval) UnmarshalJSON(data []byte) error {
	var in approvalJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parsed, err := ParseApproval(in.State, in.Kind)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseApproval builds an Approval from its wire names.
func ParseApproval(state, kind string) (Approval, error) {
	switch strings.ToLower(state) {
	case "unregistered", "":
		return Unregistered(), nil
	case "approved":
		return Approved(), nil
	case "denied":
		return Denied(), nil
	case "pending":
		switch strings.ToLower(kind) {
		case "standard", "":
			return Pending(PendingStandard), nil
		case "unprovisioned":
			return Pending(PendingUnprovisioned), nil
		}
		return Approval{}, fmt.Errorf("unknown pending kind %q", kind)
	}
	return Approval{}, fmt.Errorf("unknown approval state %q", state)
}

// Action is an operator decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

// ParseAction validates an operator action name.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionDeny:
		return ActionDeny, nil
	}
	return "", ErrInvalidAction
}

// OnOTARequest promotes an Unregistered record to Pending. Any other state is
// returned unchanged so device retries never undo an operator decision.
func OnOTARequest(current Approval, hasProvisioningKey bool) Approval {
	if current.state != StateUnregistered {
		return current
	}
	if hasProvisioningKey {
		return Pending(PendingStandard)
	}
	return Pending(PendingUnprovisioned)
}

// OnOperatorAction applies approve/deny regardless of the current state. The
// target must carry a real MAC.
func OnOperatorAction(target Identity, current Approval, action Action) (Approval, error) {
	if !target.Resolvable() {
		return current, ErrInvalidTarget
	}
	switch action {
	case ActionApprove:
		return Approved(), nil
	case ActionDeny:
		return Denied(), nil
	}
	return current, ErrInvalidAction
}

// mergeApproval picks the approval of a record that absorbs another during
// re-keying. A decided or pending state always beats a synthesized
// Unregistered one.
func mergeApproval(primary, absorbed Approval) Approval {
	if primary.state == StateUnregistered {
		return absorbed
	}
	return primary
}
