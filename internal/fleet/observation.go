package fleet

import (
	"fmt"
	"strings"
	"time"
)

// Clock returns the current time. A nil Clock means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// Kind is the type of device contact.
type Kind string

const (
	// KindOTARequest is a device asking for firmware with full metadata.
	KindOTARequest Kind = "ota_request"
	// KindVersionCheck is a device only asking for the latest version.
	KindVersionCheck Kind = "version_check"
)

// Identity is what the service knows about who a device is.
type Identity struct {
	MAC string `json:"mac,omitempty"`
	IP  string `json:"ip"`
}

// Key is the canonical registry key: MAC when known, else IP.
func (id Identity) Key() string {
	if id.MAC != "" {
		return id.MAC
	}
	return id.IP
}

// Resolvable reports whether the identity names a concrete device an
// operator can authorize.
func (id Identity) Resolvable() bool {
	return id.MAC != "" && id.MAC != UnresolvedMAC
}

// Hardware describes the device's chip, reported with OTA requests.
type Hardware struct {
	Chip    string `json:"chip"`
	Cores   int    `json:"cores"`
	FlashKB int    `json:"flash_kb"`
}

// Firmware describes the application running on the device.
type Firmware struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
}

// Observation is a single device contact as delivered by the ingress.
type Observation struct {
	Kind Kind
	// MAC is empty when the device did not identify itself.
	MAC string
	// IP is the transport-layer origin and is always required.
	IP       string
	Hardware *Hardware
	Firmware *Firmware
	// HasProvisioningKey is meaningful for OTA requests only.
	HasProvisioningKey bool
}

// NormalizeMAC upper-cases and trims a MAC. The unresolved placeholder
// normalizes to empty.
func NormalizeMAC(mac string) string {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	if mac == UnresolvedMAC {
		return ""
	}
	return mac
}

// normalized validates the observation and returns a canonical copy.
func (o Observation) normalized() (Observation, error) {
	o.IP = strings.TrimSpace(o.IP)
	o.MAC = NormalizeMAC(o.MAC)

	if o.IP == "" {
		return o, fmt.Errorf("%w: missing ip", ErrMalformedObservation)
	}
	switch o.Kind {
	case KindOTARequest:
		if o.MAC == "" {
			return o, fmt.Errorf("%w: ota request without mac", ErrMalformedObservation)
		}
	case KindVersionCheck:
	default:
		return o, fmt.Errorf("%w: unknown kind %q", ErrMalformedObservation, o.Kind)
	}
	return o, nil
}
