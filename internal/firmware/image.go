package firmware

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/muurk/otafleet/internal/fleet"
)

// DefaultVersion is advertised when no version can be resolved.
const DefaultVersion = "0.0.0"

var (
	// ErrNotFound is returned when no application image is available.
	ErrNotFound = errors.New("firmware not found")

	// ErrInvalidName is returned for image names that are not plain .bin
	// file names.
	ErrInvalidName = errors.New("invalid firmware name")
)

// Non-application images produced by an ESP-IDF build.
var skipMarkers = []string{"bootloader", "partition", "ota_data"}

var (
	projectVerRe = regexp.MustCompile(`set\s*\(\s*PROJECT_VER\s+"([^"]+)"\s*\)`)
	fileVerRe    = regexp.MustCompile(`[vV]?(\d+\.\d+\.\d+)`)
)

// Image describes a firmware file on disk.
type Image struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Size      int64     `json:"size_bytes"`
	SizeLabel string    `json:"size"`
	ModTime   time.Time `json:"time"`
	MD5       string    `json:"md5"`
}

// IsApplicationImage reports whether name is a .bin the server should serve.
func IsApplicationImage(name string) bool {
	if !strings.EqualFold(filepath.Ext(name), ".bin") {
		return false
	}
	lower := strings.ToLower(name)
	for _, m := range skipMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	return true
}

// FindImage returns the path of the first application image in dir.
func FindImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read firmware directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsApplicationImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

// Inspect stats path and computes its MD5.
func Inspect(path string) (*Image, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat firmware: %w", err)
	}
	if !st.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	sum, err := fileMD5(path)
	if err != nil {
		return nil, err
	}

	return &Image{
		Name:      filepath.Base(path),
		Path:      path,
		Size:      st.Size(),
		SizeLabel: fleet.FormatSize(float64(st.Size())),
		ModTime:   st.ModTime(),
		MD5:       sum,
	}, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open firmware: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash firmware: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadProjectVersion looks for PROJECT_VER in CMakeLists.txt in the parent
// and grandparent of buildDir, then in the working directory.
func ReadProjectVersion(buildDir string) (string, bool) {
	parent := filepath.Dir(filepath.Clean(buildDir))
	for _, dir := range []string{parent, filepath.Dir(parent), "."} {
		data, err := os.ReadFile(filepath.Join(dir, "CMakeLists.txt"))
		if err != nil {
			continue
		}
		if m := projectVerRe.FindSubmatch(data); m != nil {
			return string(m[1]), true
		}
	}
	return "", false
}

// ResolveVersion applies the version precedence for an image in buildDir.
func ResolveVersion(explicit, buildDir string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if buildDir != "" {
		if v, ok := ReadProjectVersion(buildDir); ok {
			return v
		}
	}
	return DefaultVersion
}

// VersionFromFilename extracts MAJOR.MINOR.PATCH from names such as
// "sensor_v1.0.3.bin".
func VersionFromFilename(name string) (string, bool) {
	m := fileVerRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// validName rejects anything that is not a bare application image name.
func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !IsApplicationImage(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
