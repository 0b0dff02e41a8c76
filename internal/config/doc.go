// Package config loads the OTA server configuration.
//
// Settings come from three layers, later layers winning:
//
//  1. a YAML file (--config, or server.yaml in the configuration directory
//     when it exists)
//  2. OTA_* environment variables
//  3. command-line flags, applied by the caller
//
// # Configuration File Location
//
// The default file lives in the platform configuration directory:
//   - Linux: $XDG_CONFIG_HOME/otafleet/server.yaml or $HOME/.config/otafleet/server.yaml
//   - macOS: $HOME/.config/otafleet/server.yaml
//   - Windows: %LOCALAPPDATA%\otafleet\server.yaml
//
// # Environment Variables
//
//	OTA_BIND          listen address
//	OTA_PORT          listen port
//	OTA_BASE_URL      public URL devices use to reach the server
//	OTA_FIRMWARE      firmware image path
//	OTA_FIRMWARE_DIR  firmware directory
//	OTA_VERSION       advertised firmware version
//	OTA_TOKEN         provisioning key
//
// # Example
//
//	bind: 0.0.0.0
//	port: 8080
//	firmware_dir: /srv/firmware
//	provisioning_token: change-me
//	require_approval: true
//	poll_interval: 1.5s
//	mdns:
//	  enabled: true
//	  instance: lab-ota
//
// The provisioning token is a secret. Save writes the file with user-only
// permissions.
package config
