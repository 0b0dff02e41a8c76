package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/client"
	"github.com/muurk/otafleet/internal/config"
	"github.com/muurk/otafleet/internal/discovery"
	"github.com/muurk/otafleet/internal/fleet"
	"github.com/muurk/otafleet/internal/tui"
)

// Command flags
var (
	serverURL    string
	pollInterval time.Duration
	outputFormat string
	follow       bool
	uploadVer    string
	scanTimeout  time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server base URL (default: $OTAFLEET_SERVER or "+config.DefaultServerURL+")")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(setVersionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(discoverCmd)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newClient() *client.Client {
	return client.New(config.ResolveServerURL(serverURL))
}

// watchCmd opens the live dashboard.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live fleet dashboard",
	Long: `Open a full-screen dashboard listing every device the server has seen.

Devices waiting for a decision are listed first. Select one with the arrow
keys and press a to approve or d to deny it. Downloads show a progress bar
and the current transfer speed.`,
	Example: `  # Dashboard for the local server
  otafleet watch

  # Remote server, slower refresh
  otafleet watch --server http://buildbox.local:8080 --interval 5s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&pollInterval, "interval", tui.DefaultPollInterval, "Refresh interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c := newClient()
	return tui.Run(ctx, c, c.BaseURL, pollInterval)
}

// devicesCmd prints the fleet once.
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices known to the server",
	Long: `Print the server's device table once and exit.

With --follow the table is printed again every time the server pushes an
update over its live feed, until interrupted.`,
	Example: `  # Table output
  otafleet devices

  # JSON output for scripting
  otafleet devices --format json

  # Keep printing as devices check in
  otafleet devices --follow`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")
	devicesCmd.Flags().BoolVarP(&follow, "follow", "F", false, "Print again on every live update")
}

func runDevices(cmd *cobra.Command, args []string) error {
	switch outputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unknown format %q (use table or json)", outputFormat)
	}

	ctx, cancel := signalContext()
	defer cancel()
	c := newClient()

	if follow {
		var printErr error
		err := c.Stream(ctx, func(snap *api.SnapshotResponse) {
			if printErr = printSnapshot(snap); printErr != nil {
				cancel()
			}
		})
		if err != nil {
			return fmt.Errorf("live feed failed: %s", client.GetShortErrorMessage(err))
		}
		return printErr
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch devices: %s", client.GetShortErrorMessage(err))
	}
	return printSnapshot(snap)
}

func printSnapshot(snap *api.SnapshotResponse) error {
	if outputFormat == "json" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(tui.RenderTable(snap.Devices, -1))
	fmt.Println(tui.RenderSummary(len(snap.Devices), snap.Counters))
	if snap.HasPendingApproval {
		fmt.Println()
		fmt.Println("Devices are waiting for approval. Use 'otafleet approve <mac>' or 'otafleet deny <mac>'.")
	}
	return nil
}

var approveCmd = &cobra.Command{
	Use:     "approve <mac>",
	Short:   "Allow a device to download firmware",
	Args:    cobra.ExactArgs(1),
	Example: `  otafleet approve AA:BB:CC:DD:EE:FF`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], fleet.ActionApprove)
	},
}

var denyCmd = &cobra.Command{
	Use:     "deny <mac>",
	Short:   "Block a device from downloading firmware",
	Args:    cobra.ExactArgs(1),
	Example: `  otafleet deny AA:BB:CC:DD:EE:FF`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(args[0], fleet.ActionDeny)
	},
}

func runAction(mac string, action fleet.Action) error {
	ctx, cancel := signalContext()
	defer cancel()

	res, err := newClient().Act(ctx, mac, action)
	if err != nil {
		return fmt.Errorf("%s %s: %s", action, mac, client.GetShortErrorMessage(err))
	}
	fmt.Printf("%s %s is now %s\n", tui.SuccessMarker, mac, res.Status)
	return nil
}

var setVersionCmd = &cobra.Command{
	Use:   "set-version <version>",
	Short: "Change the firmware version the server advertises",
	Long: `Change the version devices see in /version.json without replacing the image.

Devices running an older version will start requesting the update on their
next check.`,
	Args:    cobra.ExactArgs(1),
	Example: `  otafleet set-version 1.4.1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		res, err := newClient().SetVersion(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to set version: %s", client.GetShortErrorMessage(err))
		}
		fmt.Printf("%s Firmware version %s -> %s\n", tui.SuccessMarker, res.Old, res.New)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file.bin>",
	Short: "Upload a new firmware image to the server",
	Long: `Upload an application image to the server and make it the served firmware.

Without --version the server takes the version from the file name
(e.g. app-v1.4.0.bin) or keeps the current one.`,
	Args: cobra.ExactArgs(1),
	Example: `  otafleet upload build/app-v1.4.0.bin
  otafleet upload build/app.bin --version 1.4.0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("Uploading %s...\n", args[0])
		res, err := newClient().Upload(ctx, args[0], uploadVer)
		if err != nil {
			return fmt.Errorf("upload failed: %s", client.GetShortErrorMessage(err))
		}
		fmt.Printf("%s Serving %s (%s), version %s\n", tui.SuccessMarker, res.Name, res.Size, res.Version)
		fmt.Printf("   MD5: %s\n", res.MD5)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadVer, "version", "", "Firmware version of the uploaded image")
}

// discoverCmd finds servers on the local network.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find otafleet servers on the network",
	Long: `Browse for otafleet servers advertising themselves over mDNS/DNS-SD.

Each result can be passed to the other commands with --server.`,
	Example: `  # Browse for 3 seconds (default)
  otafleet discover

  # Longer browse on busy networks
  otafleet discover --timeout 10s`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to browse")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Browsing for %s servers (timeout: %s)...\n\n", discovery.ServiceType, scanTimeout)

	servers, err := discovery.Browse(ctx, scanTimeout)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if len(servers) == 0 {
		fmt.Println("No servers found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Check otafleet-server is running without --no-mdns")
		fmt.Println("  - mDNS does not cross subnets or most VPNs")
		fmt.Println("  - Try increasing --timeout")
		return nil
	}

	fmt.Printf("Found %d server(s):\n\n", len(servers))
	for i, s := range servers {
		fmt.Printf("%d. %s\n", i+1, s.Instance)
		fmt.Printf("   Host:     %s\n", s.Hostname)
		fmt.Printf("   Address:  %s\n", s.BaseURL())
		if v := s.Version(); v != "" {
			fmt.Printf("   Firmware: %s\n", v)
		}
		fmt.Println()
	}

	fmt.Println("Use 'otafleet watch --server <address>' to open the dashboard")
	return nil
}
