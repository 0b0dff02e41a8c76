package firmware

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewCatalog_FromDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.bin"), "firmware")

	c, err := NewCatalog("", dir, "1.2.3")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	img, ok := c.Current()
	if !ok || img.Name != "app.bin" {
		t.Fatalf("Current() = %+v, %v, want app.bin", img, ok)
	}
	if c.Version() != "1.2.3" {
		t.Errorf("Version() = %s, want 1.2.3", c.Version())
	}
}

func TestNewCatalog_Empty(t *testing.T) {
	c, err := NewCatalog("", t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() on empty directory should be false")
	}
	if c.Version() != DefaultVersion {
		t.Errorf("Version() = %s, want %s", c.Version(), DefaultVersion)
	}
}

func TestCatalog_SetVersion(t *testing.T) {
	c, _ := NewCatalog("", t.TempDir(), "1.0.0")

	old, err := c.SetVersion("1.1.0")
	if err != nil || old != "1.0.0" {
		t.Errorf("SetVersion() = %q, %v, want 1.0.0, nil", old, err)
	}
	if _, err := c.SetVersion("   "); err == nil {
		t.Error("SetVersion(blank) should fail")
	}
	if c.Version() != "1.1.0" {
		t.Errorf("Version() = %s, want 1.1.0", c.Version())
	}
}

func TestCatalog_Install(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCatalog("", dir, "1.0.0")

	img, err := c.Install("sensor_v2.0.1.bin", strings.NewReader("new image"), "")
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if img.Size != int64(len("new image")) {
		t.Errorf("Size = %d", img.Size)
	}
	if c.Version() != "2.0.1" {
		t.Errorf("Version() = %s, want 2.0.1 from filename", c.Version())
	}
	if cur, _ := c.Current(); cur.Name != "sensor_v2.0.1.bin" {
		t.Errorf("Current() = %s, want sensor_v2.0.1.bin", cur.Name)
	}

	if _, err := c.Install("other.bin", strings.NewReader("x"), "9.9.9"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if c.Version() != "9.9.9" {
		t.Errorf("Version() = %s, want form version 9.9.9", c.Version())
	}

	if _, err := c.Install("notes.txt", strings.NewReader("x"), ""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Install(.txt) error = %v, want ErrInvalidName", err)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.bin"), "a")
	writeFile(t, filepath.Join(dir, "b.bin"), "b")
	c, _ := NewCatalog("", dir, "")

	img, err := c.Lookup("b.bin")
	if err != nil || img.Name != "b.bin" {
		t.Errorf("Lookup(b.bin) = %+v, %v", img, err)
	}
	if _, err := c.Lookup("c.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := c.Lookup("../a.bin"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Lookup(traversal) error = %v, want ErrInvalidName", err)
	}
}

func TestCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCatalog("", dir, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Image, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func(img *Image) { changed <- img })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "app.bin"), "payload")

	select {
	case img := <-changed:
		if img == nil || img.Name != "app.bin" {
			t.Errorf("onChange image = %+v, want app.bin", img)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for firmware change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
