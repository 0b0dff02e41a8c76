package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/otafleet/internal/fleet"
)

var tableHeaders = []string{"", "MAC", "IP", "CHIP", "APP", "VERSION", "STATUS", "CHECKS"}

const statusColumn = 6

// barWidth is the progress bar width inside the status column.
const barWidth = 20

// RenderTable renders devices in snapshot order. selected is the highlighted
// row, or -1 for none.
func RenderTable(devices []fleet.DeviceView, selected int) string {
	if len(devices) == 0 {
		return SubtitleStyle.Render("No devices have contacted the server yet.")
	}

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))

	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		marker := " "
		if i == selected {
			marker = SelectedMarker
		}
		rows = append(rows, []string{
			marker,
			d.MAC,
			d.IP,
			chipLabel(d),
			d.AppName,
			d.AppVersion,
			statusCell(d, bar),
			strconv.Itoa(d.VersionChecks),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(PrimaryColor)).
		Headers(tableHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return HeaderCellStyle
			case row == selected:
				if col == statusColumn {
					return CellStyle
				}
				return SelectedCellStyle
			default:
				return CellStyle
			}
		})
	return t.Render()
}

func chipLabel(d fleet.DeviceView) string {
	if d.Cores == 0 {
		return d.Chip
	}
	return fmt.Sprintf("%s (%d)", d.Chip, d.Cores)
}

func statusCell(d fleet.DeviceView, bar progress.Model) string {
	badge := StatusStyle(d.Status).Render(string(d.Status))
	if d.Transfer == nil {
		return badge
	}
	return fmt.Sprintf("%s %s %s", badge, bar.ViewAs(float64(d.Transfer.Percent)/100), d.Transfer.SpeedLabel)
}

// RenderSummary is the one-line counter summary under the table.
func RenderSummary(devices int, c fleet.Counters) string {
	return SubtitleStyle.Render(fmt.Sprintf(
		"%d devices · %d version checks · %d OTA requests · %d/%d downloads completed",
		devices, c.VersionChecks, c.OTARequests, c.CompletedDownloads, c.StartedDownloads,
	))
}
