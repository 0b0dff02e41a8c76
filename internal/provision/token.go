package provision

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

// ErrTokenMismatch is returned when a device presents a hash that does not
// match the configured provisioning key.
var ErrTokenMismatch = errors.New("token-mismatch")

// HashToken returns the FNV-1a 64 hash of data as 16 hex digits.
func HashToken(data string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(data))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Result classifies a presented hash.
type Result int

const (
	// NoKey means the device sent no hash and has not been provisioned.
	NoKey Result = iota
	// Valid means the hash matches, or no key is configured.
	Valid
	// Mismatch means the hash was computed with a different key.
	Mismatch
)

// String returns a short label for logs.
func (r Result) String() string {
	switch r {
	case NoKey:
		return "no-key"
	case Valid:
		return "valid"
	case Mismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Verifier checks device hashes against a provisioning key.
type Verifier struct {
	key string
}

// NewVerifier creates a verifier for key. An empty key accepts any hash.
func NewVerifier(key string) *Verifier {
	return &Verifier{key: key}
}

// Enabled reports whether a provisioning key is configured.
func (v *Verifier) Enabled() bool {
	return v.key != ""
}

// Expected returns the hash a device with mac must present. It is empty when
// no key is configured.
func (v *Verifier) Expected(mac string) string {
	if v.key == "" {
		return ""
	}
	return HashToken(v.key + mac)
}

// Check classifies the hash presented by mac. The MAC is hashed exactly as
// the device sent it.
func (v *Verifier) Check(mac, presented string) Result {
	presented = strings.ToLower(strings.TrimSpace(presented))
	if presented == "" {
		return NoKey
	}
	if v.key == "" {
		return Valid
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(v.Expected(mac))) == 1 {
		return Valid
	}
	return Mismatch
}

// Verify is Check reduced to the two cases callers act on: whether the
// device holds a key, and ErrTokenMismatch for a wrong one.
func (v *Verifier) Verify(mac, presented string) (hasKey bool, err error) {
	switch v.Check(mac, presented) {
	case Valid:
		return true, nil
	case Mismatch:
		return false, ErrTokenMismatch
	default:
		return false, nil
	}
}
