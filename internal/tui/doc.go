// Package tui implements the operator's terminal dashboard.
//
// The dashboard polls the server's fleet snapshot (every 1.5s by default)
// and renders one row per device in snapshot order: devices waiting for a
// decision first, then everything else in first-contact order. Devices that
// are downloading show a progress bar and the smoothed transfer speed.
//
// # Keys
//
//   - ↑/k, ↓/j: select a device
//   - a: approve the selected device
//   - d: deny the selected device
//   - r: refresh now
//   - q: quit
//
// A failed approve or deny (for example a device known only by its IP
// address) is shown as an inline alert; the table keeps refreshing.
//
// # Usage Example
//
//	c := client.New("http://buildbox.local:8080")
//	if err := tui.Run(ctx, c, c.BaseURL, tui.DefaultPollInterval); err != nil {
//	    return err
//	}
//
// RenderTable is also used on its own by the one-shot devices command.
package tui
