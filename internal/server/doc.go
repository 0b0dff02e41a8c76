// Package server implements the OTA HTTP service.
//
// The server is the ingress for everything the fleet core sees: device
// contacts become fleet observations, operator requests become approval
// actions, and firmware downloads drive the transfer tracker.
//
// # Device Endpoints
//
//	GET  /version.json?mac=&v=&app=   version check
//	POST /validate-token              OTA request with provisioning hash
//	GET  /token-status?mac=           approval poll
//	POST /                            legacy combined check (Device-Id header)
//	GET  /firmware.bin                current image
//	GET  /{name}.bin                  named image from the firmware directory
//
// Downloads are streamed in 4 KiB chunks. Progress is reported to the
// tracker at most every 250ms. When approval is required, a download is
// refused with 403 unless the device's record is approved.
//
// # Operator Endpoints
//
//	POST /api/approve-device, /api/deny-device, /api/action
//	GET  /api/snapshot (alias /api/data)
//	POST /api/set-version
//	POST /api/upload-firmware
//	GET  /ws        live snapshot feed
//	GET  /metrics   Prometheus exposition
//	GET  /healthz
//
// # Usage Example
//
//	cfg, _ := config.Load("")
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Blocks until SIGINT/SIGTERM
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
package server
