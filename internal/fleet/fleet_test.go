package fleet

import (
	"sync"
	"testing"
)

func TestFleet_Counters(t *testing.T) {
	f := New(nil)

	for i := 0; i < 3; i++ {
		if _, err := f.Observe(versionCheck("10.0.0.5")); err != nil {
			t.Fatalf("Observe() error = %v", err)
		}
	}
	if _, err := f.Observe(otaRequest("AA:BB", "10.0.0.5", true)); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if _, err := f.Observe(Observation{Kind: KindVersionCheck}); err == nil {
		t.Fatal("Observe() without ip should fail")
	}

	id := f.StartTransfer("AA:BB", 10)
	f.ReportProgress("AA:BB", 10)
	if !f.CompleteTransfer("AA:BB", id) {
		t.Fatal("CompleteTransfer() = false")
	}
	if f.CompleteTransfer("AA:BB", id) {
		t.Error("duplicate CompleteTransfer() = true")
	}

	aborted := f.StartTransfer("AA:BB", 10)
	f.AbortTransfer("AA:BB", aborted)

	got := f.Counters()
	want := Counters{VersionChecks: 3, OTARequests: 1, StartedDownloads: 2, CompletedDownloads: 1}
	if got != want {
		t.Errorf("Counters() = %+v, want %+v", got, want)
	}

	snap := f.Snapshot()
	if snap.Counters != want {
		t.Errorf("Snapshot().Counters = %+v, want %+v", snap.Counters, want)
	}
	if snap.GeneratedAt.IsZero() {
		t.Error("Snapshot().GeneratedAt is zero")
	}
}

func TestFleet_ActResult(t *testing.T) {
	f := New(nil)
	if _, err := f.Observe(otaRequest("AA:BB", "10.0.0.5", false)); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	res := f.Act("AA:BB", ActionApprove)
	if !res.OK || res.Approval != Approved() {
		t.Errorf("Act(approve) = %+v", res)
	}

	res = f.Act("-", ActionApprove)
	if res.OK || res.Reason != ErrInvalidTarget.Error() {
		t.Errorf("Act(-) = %+v, want invalid-target", res)
	}
}

func TestFleet_ConcurrentMixedTraffic(t *testing.T) {
	f := New(nil)
	macs := []string{"AA:01", "AA:02", "AA:03", "AA:04"}

	var wg sync.WaitGroup
	for i, mac := range macs {
		ip := "10.0.1." + string(rune('1'+i))
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = f.Observe(versionCheck(ip))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = f.Observe(otaRequest(mac, ip, true))
				f.Act(mac, ActionApprove)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := f.StartTransfer(mac, 1000)
				f.ReportProgress(mac, int64(j*50))
				f.CompleteTransfer(mac, id)
				_ = f.Snapshot()
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, d := range f.Snapshot().Devices {
		total += d.VersionChecks
	}
	if total != 50*len(macs) {
		t.Errorf("total version checks = %d, want %d", total, 50*len(macs))
	}
	if c := f.Counters(); c.CompletedDownloads != uint64(20*len(macs)) {
		t.Errorf("CompletedDownloads = %d, want %d", c.CompletedDownloads, 20*len(macs))
	}
}
