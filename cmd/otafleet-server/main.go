// Otafleet-server serves firmware to ESP devices over HTTP and keeps track of
// every device that checks in.
//
// Devices poll /version.json, register with /validate-token and download the
// current image from /firmware.bin once an operator has approved them.
// Operators use the separate 'otafleet' CLI to watch the fleet and to approve
// or deny devices.
//
// Usage:
//
//	otafleet-server server [flags]
//
// See 'otafleet-server server --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/otafleet/internal/config"
	"github.com/muurk/otafleet/internal/logging"
	"github.com/muurk/otafleet/internal/server"
	"github.com/muurk/otafleet/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "otafleet-server",
	Short: "OTA firmware server for ESP device fleets",
	Long: `An HTTP server that hands out firmware to ESP devices.

Every device that checks in is tracked. With approval enabled (the default)
a device may only download after an operator approves it.

Note: to watch the fleet and approve devices, use the separate 'otafleet' CLI.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

// Server command and flags
var (
	configPath   string
	bind         string
	port         int
	firmwarePath string
	firmwareDir  string
	fwVersion    string
	token        string
	noApproval   bool
	baseURL      string
	noMDNS       bool
	instance     string
	logLevel     string
	certPath     string
	keyPath      string
	trustProxy   bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the OTA server",
	Long: `Start the OTA server and accept version checks and downloads from devices.

Settings are read from the config file first (default
$XDG_CONFIG_HOME/otafleet/server.yaml if present), then OTA_* environment
variables, then the flags below.

Without --firmware the first application .bin in --firmware-dir (bootloader
and partition images are skipped) is served, and the directory is watched
for new builds. Without --version the version is taken
from the file name or from a nearby CMakeLists.txt.`,
	Example: `  # Serve the build from an ESP-IDF build directory
  otafleet-server server --firmware-dir ./build

  # Serve a specific file and require a provisioning token
  otafleet-server server --firmware app-v1.4.0.bin --token s3cret

  # Let every device update without approval
  otafleet-server server --firmware-dir ./build --no-approval

  # Behind a reverse proxy
  otafleet-server server --base-url https://ota.example.com --no-mdns --trust-proxy-headers`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to config file")
	f.StringVar(&bind, "bind", config.DefaultBind, "Address to listen on")
	f.IntVarP(&port, "port", "p", config.DefaultPort, "Server port")
	f.StringVarP(&firmwarePath, "firmware", "f", "", "Firmware image to serve")
	f.StringVarP(&firmwareDir, "firmware-dir", "d", "", "Directory to pick the application .bin from and watch")
	f.StringVar(&fwVersion, "version", "", "Firmware version to advertise (default: from file name or CMakeLists.txt)")
	f.StringVar(&token, "token", "", "Provisioning token devices must prove (disabled if empty)")
	f.BoolVar(&noApproval, "no-approval", false, "Allow downloads without operator approval")
	f.StringVar(&baseURL, "base-url", "", "Public base URL for firmware links (default: http://<local-ip>:<port>)")
	f.BoolVar(&noMDNS, "no-mdns", false, "Do not advertise the server over mDNS")
	f.StringVar(&instance, "instance", config.DefaultInstance, "mDNS instance name")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&certPath, "tls-cert", "", "TLS certificate file (enables HTTPS with --tls-key)")
	f.StringVar(&keyPath, "tls-key", "", "TLS private key file")
	f.BoolVar(&trustProxy, "trust-proxy-headers", false, "Take client addresses from X-Forwarded-For/X-Real-IP (only behind a reverse proxy)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfg.TLS.Enabled() {
		for _, p := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile} {
			if _, err := os.Stat(p); os.IsNotExist(err) {
				return fmt.Errorf("TLS file not found: %s", p)
			}
		}
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start()
}

// applyFlags overrides cfg with the flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.ServerConfig) {
	changed := cmd.Flags().Changed

	if changed("bind") {
		cfg.Bind = bind
	}
	if changed("port") {
		cfg.Port = port
	}
	if changed("firmware") {
		cfg.FirmwarePath = firmwarePath
	}
	if changed("firmware-dir") {
		cfg.FirmwareDir = firmwareDir
	}
	if changed("version") {
		cfg.FirmwareVersion = fwVersion
	}
	if changed("token") {
		cfg.ProvisioningToken = token
	}
	if changed("no-approval") {
		cfg.RequireApproval = !noApproval
	}
	if changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if changed("no-mdns") {
		cfg.MDNS.Enabled = !noMDNS
	}
	if changed("instance") {
		cfg.MDNS.Instance = instance
	}
	if changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if changed("tls-cert") {
		cfg.TLS.CertFile = certPath
	}
	if changed("tls-key") {
		cfg.TLS.KeyFile = keyPath
	}
	if changed("trust-proxy-headers") {
		cfg.TrustProxyHeaders = trustProxy
	}
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("otafleet-server %s (commit: %s)\n", version.Version, version.Commit)
	},
}
