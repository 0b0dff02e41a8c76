package fleet

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

// stepClock advances by one second on every read.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func versionCheck(ip string) Observation {
	return Observation{Kind: KindVersionCheck, IP: ip}
}

func otaRequest(mac, ip string, hasKey bool) Observation {
	return Observation{
		Kind:               KindOTARequest,
		MAC:                mac,
		IP:                 ip,
		Hardware:           &Hardware{Chip: "ESP32-S3", Cores: 2, FlashKB: 8192},
		Firmware:           &Firmware{AppName: "sensor", AppVersion: "1.0.0"},
		HasProvisioningKey: hasKey,
	}
}

func mustObserve(t *testing.T, r *Registry, obs Observation) Record {
	t.Helper()
	rec, err := r.Observe(obs)
	if err != nil {
		t.Fatalf("Observe(%+v) error = %v", obs, err)
	}
	return rec
}

func keys(records []Record) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Key()
	}
	return out
}

func TestRegistry_MergeIdempotence(t *testing.T) {
	once := NewRegistry(newStepClock().Now)
	mustObserve(t, once, otaRequest("AA:BB", "10.0.0.5", true))

	many := NewRegistry(newStepClock().Now)
	for i := 0; i < 5; i++ {
		mustObserve(t, many, otaRequest("AA:BB", "10.0.0.5", true))
	}

	a, b := once.Records(), many.Records()
	for i := range a {
		a[i].LastSeenAt = time.Time{}
	}
	for i := range b {
		b[i].LastSeenAt = time.Time{}
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Records() after 5 requests = %+v, want %+v", b, a)
	}
}

func TestRegistry_ReKeyPreservesCounts(t *testing.T) {
	r := NewRegistry(newStepClock().Now)
	for i := 0; i < 3; i++ {
		mustObserve(t, r, versionCheck("10.0.0.5"))
	}

	ipRec, ok := r.Lookup("10.0.0.5")
	if !ok || ipRec.VersionCheckCount != 3 {
		t.Fatalf("Lookup(10.0.0.5) = %+v, %v, want count 3", ipRec, ok)
	}

	rec := mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))

	if rec.Key() != "AA:BB" {
		t.Errorf("Key() = %s, want AA:BB", rec.Key())
	}
	if rec.VersionCheckCount != 3 {
		t.Errorf("VersionCheckCount = %d, want 3", rec.VersionCheckCount)
	}
	if rec.Approval != Pending(PendingStandard) {
		t.Errorf("Approval = %v, want pending(standard)", rec.Approval)
	}
	if !rec.FirstSeenAt.Equal(ipRec.FirstSeenAt) {
		t.Errorf("FirstSeenAt = %v, want %v", rec.FirstSeenAt, ipRec.FirstSeenAt)
	}
	if _, ok := r.Lookup("10.0.0.5"); ok {
		t.Error("IP record should be removed after re-keying")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_VersionCheckRoutesToMACByIP(t *testing.T) {
	r := NewRegistry(newStepClock().Now)
	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
	rec := mustObserve(t, r, versionCheck("10.0.0.5"))

	if rec.Key() != "AA:BB" {
		t.Errorf("Key() = %s, want AA:BB", rec.Key())
	}
	if rec.VersionCheckCount != 1 {
		t.Errorf("VersionCheckCount = %d, want 1", rec.VersionCheckCount)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_IPChange(t *testing.T) {
	r := NewRegistry(newStepClock().Now)
	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.9", true))

	rec := mustObserve(t, r, versionCheck("10.0.0.5"))
	if rec.Key() != "10.0.0.5" {
		t.Errorf("version check from old IP keyed %s, want 10.0.0.5", rec.Key())
	}

	rec = mustObserve(t, r, versionCheck("10.0.0.9"))
	if rec.Key() != "AA:BB" {
		t.Errorf("version check from new IP keyed %s, want AA:BB", rec.Key())
	}

	// Device returns to its old address and absorbs the IP record there.
	rec = mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
	if rec.VersionCheckCount != 2 {
		t.Errorf("VersionCheckCount = %d, want 2", rec.VersionCheckCount)
	}
	if got := keys(r.Records()); !reflect.DeepEqual(got, []string{"AA:BB"}) {
		t.Errorf("Records() keys = %v, want [AA:BB]", got)
	}
}

func TestRegistry_VersionCheckMAC(t *testing.T) {
	r := NewRegistry(newStepClock().Now)

	rec := mustObserve(t, r, Observation{Kind: KindVersionCheck, MAC: "cc:dd", IP: "10.0.0.7"})
	if rec.Key() != "10.0.0.7" {
		t.Errorf("unknown MAC version check keyed %s, want 10.0.0.7", rec.Key())
	}

	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
	rec = mustObserve(t, r, Observation{
		Kind:     KindVersionCheck,
		MAC:      "aa:bb",
		IP:       "10.0.0.5",
		Firmware: &Firmware{AppName: "sensor", AppVersion: "1.1.0"},
	})
	if rec.Key() != "AA:BB" {
		t.Errorf("known MAC version check keyed %s, want AA:BB", rec.Key())
	}
	if rec.Firmware == nil || rec.Firmware.AppVersion != "1.1.0" {
		t.Errorf("Firmware = %+v, want version 1.1.0", rec.Firmware)
	}
	if rec.Hardware == nil || rec.Hardware.Chip != "ESP32-S3" {
		t.Errorf("Hardware = %+v, want ESP32-S3 kept", rec.Hardware)
	}
}

func TestRegistry_VersionCheckKeepsAppName(t *testing.T) {
	tests := []struct {
		name        string
		reported    Firmware
		wantName    string
		wantVersion string
	}{
		{"version only", Firmware{AppVersion: "1.1.0"}, "sensor", "1.1.0"},
		{"renamed app", Firmware{AppName: "gateway", AppVersion: "2.0.0"}, "gateway", "2.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(newStepClock().Now)
			mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))

			reported := tt.reported
			rec := mustObserve(t, r, Observation{
				Kind:     KindVersionCheck,
				MAC:      "AA:BB",
				IP:       "10.0.0.5",
				Firmware: &reported,
			})
			if rec.Firmware == nil {
				t.Fatal("Firmware = nil")
			}
			if rec.Firmware.AppName != tt.wantName {
				t.Errorf("AppName = %q, want %q", rec.Firmware.AppName, tt.wantName)
			}
			if rec.Firmware.AppVersion != tt.wantVersion {
				t.Errorf("AppVersion = %q, want %q", rec.Firmware.AppVersion, tt.wantVersion)
			}

			view := BuildSnapshot(r, NewTracker(nil)).Devices[0]
			if view.AppName != tt.wantName {
				t.Errorf("snapshot AppName = %q, want %q", view.AppName, tt.wantName)
			}
		})
	}

	r := NewRegistry(newStepClock().Now)
	rec := mustObserve(t, r, Observation{Kind: KindVersionCheck, IP: "10.0.0.8", Firmware: &Firmware{AppVersion: "0.9.0"}})
	if rec.Firmware == nil || rec.Firmware.AppName != "" || rec.Firmware.AppVersion != "0.9.0" {
		t.Errorf("first report Firmware = %+v, want version 0.9.0 only", rec.Firmware)
	}
}

func TestRegistry_IdempotentPromotion(t *testing.T) {
	r := NewRegistry(newStepClock().Now)

	rec := mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", false))
	if rec.Approval != Pending(PendingUnprovisioned) {
		t.Fatalf("Approval = %v, want pending(unprovisioned)", rec.Approval)
	}
	rec = mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
	if rec.Approval != Pending(PendingUnprovisioned) {
		t.Errorf("second request Approval = %v, want pending(unprovisioned)", rec.Approval)
	}

	for _, tt := range []struct {
		action Action
		want   Approval
	}{
		{ActionApprove, Approved()},
		{ActionDeny, Denied()},
	} {
		if res := r.Act("AA:BB", tt.action); !res.OK {
			t.Fatalf("Act(%s) = %+v", tt.action, res)
		}
		rec = mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
		if rec.Approval != tt.want {
			t.Errorf("after %s and retry Approval = %v, want %v", tt.action, rec.Approval, tt.want)
		}
	}
}

func TestRegistry_Act(t *testing.T) {
	r := NewRegistry(newStepClock().Now)
	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))
	mustObserve(t, r, versionCheck("10.0.0.7"))

	tests := []struct {
		name     string
		mac      string
		action   Action
		wantOK   bool
		wantWhy  string
		wantRec  string
		wantAppr Approval
	}{
		{"placeholder", "-", ActionApprove, false, "invalid-target", "", Approval{}},
		{"empty", "  ", ActionApprove, false, "invalid-target", "", Approval{}},
		{"ip keyed record", "10.0.0.7", ActionApprove, false, "invalid-target", "10.0.0.7", Unregistered()},
		{"unknown", "11:22", ActionApprove, false, "not-found", "", Approval{}},
		{"bad action", "AA:BB", Action("reboot"), false, "invalid-action", "AA:BB", Pending(PendingStandard)},
		{"lowercase approve", "aa:bb", ActionApprove, true, "", "AA:BB", Approved()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Act(tt.mac, tt.action)
			if res.OK != tt.wantOK || res.Reason != tt.wantWhy {
				t.Errorf("Act(%q) = %+v, want ok=%v reason=%q", tt.mac, res, tt.wantOK, tt.wantWhy)
			}
			if tt.wantRec == "" {
				return
			}
			rec, _ := r.Lookup(tt.wantRec)
			if rec.Approval != tt.wantAppr {
				t.Errorf("Approval after Act = %v, want %v", rec.Approval, tt.wantAppr)
			}
		})
	}
}

func TestRegistry_InvalidTargetMutatesNothing(t *testing.T) {
	r := NewRegistry(newStepClock().Now)
	mustObserve(t, r, versionCheck("10.0.0.7"))
	before := r.Records()

	if res := r.Act("-", ActionApprove); res.OK || res.Reason != "invalid-target" {
		t.Fatalf("Act(-) = %+v, want invalid-target", res)
	}
	if after := r.Records(); !reflect.DeepEqual(before, after) {
		t.Errorf("Records() changed: %+v -> %+v", before, after)
	}
}

func TestRegistry_MalformedObservation(t *testing.T) {
	r := NewRegistry(nil)

	tests := []struct {
		name string
		obs  Observation
	}{
		{"missing ip", Observation{Kind: KindVersionCheck}},
		{"ota without mac", Observation{Kind: KindOTARequest, IP: "10.0.0.5"}},
		{"ota with placeholder mac", Observation{Kind: KindOTARequest, MAC: "-", IP: "10.0.0.5"}},
		{"unknown kind", Observation{Kind: "ping", IP: "10.0.0.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Observe(tt.obs); !errors.Is(err, ErrMalformedObservation) {
				t.Errorf("Observe() error = %v, want ErrMalformedObservation", err)
			}
		})
	}

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if _, err := r.Observe(versionCheck("10.0.0.5")); err != nil {
		t.Errorf("registry unusable after bad input: %v", err)
	}
}

func TestRegistry_InsertionOrder(t *testing.T) {
	r := NewRegistry(newStepClock().Now)
	mustObserve(t, r, versionCheck("10.0.0.1"))
	mustObserve(t, r, versionCheck("10.0.0.2"))
	mustObserve(t, r, otaRequest("CC:DD", "10.0.0.3", true))
	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.1", true))

	want := []string{"AA:BB", "10.0.0.2", "CC:DD"}
	if got := keys(r.Records()); !reflect.DeepEqual(got, want) {
		t.Errorf("Records() keys = %v, want %v", got, want)
	}
}

func TestRegistry_KeyFor(t *testing.T) {
	r := NewRegistry(nil)
	mustObserve(t, r, otaRequest("AA:BB", "10.0.0.5", true))

	tests := []struct {
		mac, ip, want string
	}{
		{"", "10.0.0.5", "AA:BB"},
		{"aa:bb", "10.0.0.9", "AA:BB"},
		{"", "10.0.0.6", "10.0.0.6"},
		{"EE:FF", "10.0.0.6", "10.0.0.6"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s@%s", tt.mac, tt.ip), func(t *testing.T) {
			if got := r.KeyFor(tt.mac, tt.ip); got != tt.want {
				t.Errorf("KeyFor(%q, %q) = %s, want %s", tt.mac, tt.ip, got, tt.want)
			}
		})
	}
	if r.Len() != 1 {
		t.Errorf("KeyFor mutated registry: Len() = %d", r.Len())
	}
}

func TestRegistry_ConcurrentReKey(t *testing.T) {
	const checks = 200
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < checks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Observe(versionCheck("10.0.0.5")); err != nil {
				t.Errorf("Observe() error = %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		if _, err := r.Observe(otaRequest("AA:BB", "10.0.0.5", true)); err != nil {
			t.Errorf("Observe() error = %v", err)
		}
	}()

	done := make(chan struct{})
	torn := make(chan string, 1)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			records := r.snapshotRecords()
			if len(records) > 1 {
				select {
				case torn <- fmt.Sprintf("%v", len(records)):
				default:
				}
			}
		}
	}()

	close(start)
	wg.Wait()
	close(done)

	select {
	case n := <-torn:
		t.Errorf("reader observed %s records for one device", n)
	default:
	}

	rec, ok := r.Lookup("AA:BB")
	if !ok {
		t.Fatal("Lookup(AA:BB) not found")
	}
	if rec.VersionCheckCount != checks {
		t.Errorf("VersionCheckCount = %d, want %d", rec.VersionCheckCount, checks)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
