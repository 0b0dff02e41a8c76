package firmware

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/logging"
)

// Catalog is the firmware currently offered to devices.
type Catalog struct {
	mu      sync.RWMutex
	dir     string
	path    string
	version string
	// pinned is true when path was configured explicitly and must not be
	// replaced by a directory rescan.
	pinned bool
	image  *Image
}

// NewCatalog builds a catalog from a firmware file, a firmware directory, or
// both. When path is empty the first application image in dir is used.
// A missing image is not an error; the catalog is simply empty until one
// appears.
func NewCatalog(path, dir, version string) (*Catalog, error) {
	c := &Catalog{dir: dir, path: path, pinned: path != ""}
	if c.dir == "" && path != "" {
		c.dir = filepath.Dir(path)
	}

	if err := c.Rescan(); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	c.version = ResolveVersion(version, c.dir)
	return c, nil
}

// Dir returns the firmware directory.
func (c *Catalog) Dir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dir
}

// Version returns the advertised firmware version.
func (c *Catalog) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetVersion changes the advertised version and returns the previous one.
func (c *Catalog) SetVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("empty version")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.version
	c.version = v
	return old, nil
}

// Current returns the image currently served.
func (c *Catalog) Current() (*Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.image == nil {
		return nil, false
	}
	img := *c.image
	return &img, true
}

// Rescan re-reads the current image from disk. For an unpinned catalog the
// directory is searched again.
func (c *Catalog) Rescan() error {
	c.mu.RLock()
	path, dir, pinned := c.path, c.dir, c.pinned
	c.mu.RUnlock()

	if !pinned {
		if dir == "" {
			return ErrNotFound
		}
		found, err := FindImage(dir)
		if err != nil {
			c.setImage("", nil)
			return err
		}
		path = found
	}

	img, err := Inspect(path)
	if err != nil {
		c.setImage(path, nil)
		return err
	}
	c.setImage(path, img)
	return nil
}

func (c *Catalog) setImage(path string, img *Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	c.image = img
}

// Lookup returns the image called name. The current image is matched first,
// then the firmware directory is searched.
func (c *Catalog) Lookup(name string) (*Image, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if img, ok := c.Current(); ok && img.Name == name {
		return img, nil
	}

	dir := c.Dir()
	if dir == "" {
		return nil, ErrNotFound
	}
	return Inspect(filepath.Join(dir, name))
}

// Install writes an uploaded image into the firmware directory and makes it
// current. The version comes from version, else from the file name; when
// neither yields one the advertised version is left unchanged.
func (c *Catalog) Install(name string, r io.Reader, version string) (*Image, error) {
	name = filepath.Base(name)
	if err := validName(name); err != nil {
		return nil, err
	}

	dir := c.Dir()
	if dir == "" {
		return nil, errors.New("no firmware directory configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create firmware directory: %w", err)
	}

	dest := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary firmware file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write firmware: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write firmware: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to install firmware: %w", err)
	}

	img, err := Inspect(dest)
	if err != nil {
		return nil, err
	}

	v := strings.TrimSpace(version)
	if v == "" {
		v, _ = VersionFromFilename(name)
	}

	c.mu.Lock()
	c.path = dest
	c.pinned = true
	c.image = img
	if v != "" {
		c.version = v
	}
	current := c.version
	c.mu.Unlock()

	logging.Info("Installed firmware",
		zap.String("name", img.Name),
		zap.String("size", img.SizeLabel),
		zap.String("md5", img.MD5),
		zap.String("version", current),
	)
	return img, nil
}
