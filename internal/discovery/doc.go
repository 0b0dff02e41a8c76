// Package discovery advertises the OTA server over mDNS and finds running
// servers from the operator CLI.
//
// Servers register as "_otafleet._tcp" in the "local." domain with TXT
// records carrying the advertised firmware version and the API path.
//
// # Usage Example
//
//	advert, err := discovery.Register(discovery.Service{
//	    Instance: "otafleet",
//	    Port:     8080,
//	    Version:  "1.4.0",
//	})
//	if err != nil {
//	    return err
//	}
//	defer advert.Shutdown()
//
//	servers, err := discovery.Browse(ctx, 3*time.Second)
//	for _, s := range servers {
//	    fmt.Println(s.BaseURL(), s.Version())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Servers must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
