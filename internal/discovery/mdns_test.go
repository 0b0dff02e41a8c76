package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, v4, v6 []net.IP, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	e.HostName = host
	e.Port = port
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	e.Text = text
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name        string
		entry       *zeroconf.ServiceEntry
		wantNil     bool
		wantIP      string
		wantPort    int
		wantVersion string
	}{
		{
			name:        "IPv4 with TXT records",
			entry:       entry("otafleet", "buildbox.local.", 8080, []net.IP{net.ParseIP("192.168.4.16")}, nil, "path=/", "version=1.4.0"),
			wantIP:      "192.168.4.16",
			wantPort:    8080,
			wantVersion: "1.4.0",
		},
		{
			name:     "missing port defaults",
			entry:    entry("otafleet", "buildbox.local.", 0, []net.IP{net.ParseIP("10.0.0.5")}, nil),
			wantIP:   "10.0.0.5",
			wantPort: DefaultPort,
		},
		{
			name:     "IPv6 only",
			entry:    entry("lab", "lab.local.", 9000, nil, []net.IP{net.ParseIP("fe80::1")}),
			wantIP:   "fe80::1",
			wantPort: 9000,
		},
		{
			name:     "prefers IPv4",
			entry:    entry("lab", "lab.local.", 9000, []net.IP{net.ParseIP("192.168.1.50")}, []net.IP{net.ParseIP("fe80::2")}),
			wantIP:   "192.168.1.50",
			wantPort: 9000,
		},
		{
			name:    "no address",
			entry:   entry("lab", "lab.local.", 9000, nil, nil),
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseServiceEntry(tt.entry)
			if (got == nil) != tt.wantNil {
				t.Fatalf("parseServiceEntry() = %v, wantNil %v", got, tt.wantNil)
			}
			if got == nil {
				return
			}
			if got.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", got.IP, tt.wantIP)
			}
			if got.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", got.Port, tt.wantPort)
			}
			if got.Version() != tt.wantVersion {
				t.Errorf("Version() = %v, want %v", got.Version(), tt.wantVersion)
			}
			if got.Instance != tt.entry.Instance {
				t.Errorf("Instance = %v, want %v", got.Instance, tt.entry.Instance)
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	got := parseServiceEntry(entry("otafleet", "h.local.", 80, []net.IP{net.ParseIP("10.0.0.1")}, nil, "path=/", "flag", "k=a=b"))
	want := map[string]string{"path": "/", "flag": "", "k": "a=b"}
	for k, v := range want {
		if got.GetMetadata(k) != v {
			t.Errorf("GetMetadata(%q) = %q, want %q", k, got.GetMetadata(k), v)
		}
	}
}

func TestService_Text(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
		want []string
	}{
		{"with version", Service{Instance: "a", Port: 1, Version: "2.0.0"}, []string{"path=/", "version=2.0.0"}},
		{"without version", Service{Instance: "a", Port: 1}, []string{"path=/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.svc.text()
			if len(got) != len(tt.want) {
				t.Fatalf("text() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("text()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRegister_Invalid(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
	}{
		{"missing instance", Service{Port: 8080}},
		{"zero port", Service{Instance: "otafleet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Register(tt.svc); err == nil {
				t.Error("Register() error = nil, want error")
			}
		})
	}
}

func TestServer_URLs(t *testing.T) {
	tests := []struct {
		name   string
		server *Server
		want   string
	}{
		{"ipv4", &Server{IP: "192.168.4.16", Port: 8080}, "http://192.168.4.16:8080"},
		{"ipv6", &Server{IP: "fe80::1", Port: 9000}, "http://[fe80::1]:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.server.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %v, want %v", got, tt.want)
			}
		})
	}

	s := &Server{Instance: "otafleet", Hostname: "buildbox.local.", IP: "10.0.0.2", Port: 8080}
	if got, want := s.String(), "otafleet (buildbox.local.) at 10.0.0.2:8080"; got != want {
		t.Errorf("String() = %v, want %v", got, want)
	}
	if (&Server{}).Version() != "" {
		t.Error("Version() on empty metadata should be empty")
	}
}
