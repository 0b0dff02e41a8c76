package fleet

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		a    Approval
		want DisplayStatus
	}{
		{Pending(PendingUnprovisioned), StatusAwaitingProvisioning},
		{Pending(PendingStandard), StatusAwaitingApproval},
		{Approved(), StatusApproved},
		{Denied(), StatusDenied},
		{Unregistered(), StatusVersionCheckOnly},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if got := statusOf(tt.a); got != tt.want {
				t.Errorf("statusOf(%v) = %q, want %q", tt.a, got, tt.want)
			}
		})
	}
}

func TestBuildSnapshot_TransferPrecedence(t *testing.T) {
	reg := NewRegistry(nil)
	tr := NewTracker(nil)
	mustObserve(t, reg, otaRequest("AA:BB", "10.0.0.5", true))
	reg.Act("AA:BB", ActionDeny)

	tr.StartTransfer("AA:BB", 100)
	tr.ReportProgress("AA:BB", 42)

	snap := BuildSnapshot(reg, tr)
	if len(snap.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(snap.Devices))
	}
	dev := snap.Devices[0]
	if dev.Status != StatusDownloading {
		t.Errorf("Status = %q, want downloading", dev.Status)
	}
	if dev.Transfer == nil || dev.Transfer.Percent != 42 {
		t.Errorf("Transfer = %+v, want 42%%", dev.Transfer)
	}
	if dev.Approval != Denied() {
		t.Errorf("Approval = %v, want denied", dev.Approval)
	}
}

func TestBuildSnapshot_Placeholders(t *testing.T) {
	reg := NewRegistry(nil)
	mustObserve(t, reg, versionCheck("10.0.0.7"))

	dev := BuildSnapshot(reg, NewTracker(nil)).Devices[0]
	if dev.MAC != "-" || dev.Chip != "?" || dev.AppVersion != "?" || dev.Cores != 0 || dev.FlashKB != 0 {
		t.Errorf("placeholders = %+v", dev)
	}
	if dev.Actionable {
		t.Error("version-check-only device should not be actionable")
	}
	if dev.Status != StatusVersionCheckOnly {
		t.Errorf("Status = %q, want version-check only", dev.Status)
	}
}

func TestBuildSnapshot_OrderingProperty(t *testing.T) {
	approvals := []Approval{
		Unregistered(), Pending(PendingStandard), Pending(PendingUnprovisioned), Approved(), Denied(),
	}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		n := rng.Intn(12)
		records := make([]*Record, n)
		transfers := make(map[string]Transfer)
		for i := range records {
			mac := string(rune('A'+i)) + "0:00"
			records[i] = &Record{
				Identity: Identity{MAC: mac, IP: "10.0.0.1"},
				Approval: approvals[rng.Intn(len(approvals))],
			}
			if rng.Intn(4) == 0 {
				transfers[mac] = Transfer{Key: mac, Percent: rng.Intn(101)}
			}
		}

		snap := buildSnapshot(records, transfers)

		seenOther := false
		anyAwaiting := false
		for _, d := range snap.Devices {
			if d.Status.Awaiting() {
				anyAwaiting = true
				if seenOther {
					t.Fatalf("round %d: awaiting device %s after non-awaiting", round, d.Key)
				}
			} else {
				seenOther = true
			}
		}
		if snap.HasPendingApproval != anyAwaiting {
			t.Fatalf("round %d: HasPendingApproval = %v, want %v", round, snap.HasPendingApproval, anyAwaiting)
		}
	}
}

func TestBuildSnapshot_StablePartitions(t *testing.T) {
	records := []*Record{
		{Identity: Identity{MAC: "01"}, Approval: Approved()},
		{Identity: Identity{MAC: "02"}, Approval: Pending(PendingStandard)},
		{Identity: Identity{MAC: "03"}, Approval: Denied()},
		{Identity: Identity{MAC: "04"}, Approval: Pending(PendingUnprovisioned)},
		{Identity: Identity{IP: "10.0.0.9"}, Approval: Unregistered()},
	}

	snap := buildSnapshot(records, nil)
	want := []string{"02", "04", "01", "03", "10.0.0.9"}
	for i, d := range snap.Devices {
		if d.Key != want[i] {
			t.Errorf("Devices[%d].Key = %s, want %s", i, d.Key, want[i])
		}
	}
	if !snap.HasPendingApproval {
		t.Error("HasPendingApproval = false, want true")
	}
}

func TestBuildSnapshot_Empty(t *testing.T) {
	snap := buildSnapshot(nil, nil)
	if snap.HasPendingApproval {
		t.Error("empty snapshot has pending approval")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded struct {
		Devices []DeviceView `json:"devices"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Devices == nil {
		t.Error("devices should encode as [] not null")
	}
}
