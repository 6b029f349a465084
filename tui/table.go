package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column represents a table column
type Column struct {
	Title string
	Width int
}

// Row represents a table row
type Row []string

// Table renders data in a styled table format
type Table struct {
	columns []Column
	rows    []Row
	styles  *Styles
}

// NewTable creates a new table with the given columns
func NewTable(columns []Column) *Table {
	return &Table{
		columns: columns,
		rows:    []Row{},
		styles:  DefaultStyles(),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(row Row) {
	t.rows = append(t.rows, row)
}

// SetRows sets all rows at once
func (t *Table) SetRows(rows []Row) {
	t.rows = rows
}

// Render renders the table as a string
func (t *Table) Render() string {
	var b strings.Builder

	// Header
	headerCells := make([]string, len(t.columns))
	for i, col := range t.columns {
		cell := t.styles.TableHeader.Width(col.Width).Render(col.Title)
		headerCells[i] = cell
	}
	b.WriteString(strings.Join(headerCells, " ") + "\n")

	// Separator
	for _, col := range t.columns {
		b.WriteString(strings.Repeat("─", col.Width) + " ")
	}
	b.WriteString("\n")

	// Rows
	for _, row := range t.rows {
		rowCells := make([]string, len(t.columns))
		for i, col := range t.columns {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			// Truncate if too long
			if len(cell) > col.Width {
				cell = cell[:col.Width-3] + "..."
			}
			rowCells[i] = t.styles.TableCell.Width(col.Width).Render(cell)
		}
		b.WriteString(strings.Join(rowCells, " ") + "\n")
	}

	return b.String()
}

// RenderSimple renders a simple table without borders
func RenderSimple(headers []string, rows [][]string, styles *Styles) string {
	if styles == nil {
		styles = DefaultStyles()
	}

	var b strings.Builder

	// Calculate column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Header
	for i, h := range headers {
		cell := styles.TableHeader.Width(widths[i] + 2).Render(h)
		b.WriteString(cell)
	}
	b.WriteString("\n")

	// Rows
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				styled := styles.TableRow.Width(widths[i] + 2).Render(cell)
				b.WriteString(styled)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// DeviceRow represents one reader for table display.
type DeviceRow struct {
	ID             string
	Driver         string
	OperationState string
	Claimed        string
	ClaimOwner     string
	Busy           string
	FingerPresent  string
}

// RenderDevicesTable renders a table of registered readers.
func RenderDevicesTable(devices []DeviceRow) string {
	styles := DefaultStyles()
	var b strings.Builder

	b.WriteString(styles.Title.Render("Readers") + "\n\n")

	if len(devices) == 0 {
		b.WriteString(styles.Muted.Render("  No readers registered\n"))
		return b.String()
	}

	columns := []Column{
		{Title: "STATE", Width: 8},
		{Title: "DEVICE", Width: 10},
		{Title: "DRIVER", Width: 12},
		{Title: "OPERATION", Width: 16},
		{Title: "CLAIMED BY", Width: 16},
		{Title: "FINGER", Width: 8},
	}

	var headerLine string
	for _, col := range columns {
		cell := styles.TableHeader.Width(col.Width).Render(col.Title)
		headerLine += cell + " "
	}
	b.WriteString(headerLine + "\n")

	for _, col := range columns {
		b.WriteString(styles.Muted.Render(strings.Repeat("─", col.Width)) + " ")
	}
	b.WriteString("\n")

	for _, d := range devices {
		status := "pending"
		if d.Busy == "true" {
			status = "in_progress"
		} else if d.Claimed == "true" {
			status = "active"
		}
		icon := styles.StatusIcon(status)

		deviceID := d.ID
		if len(deviceID) > 8 {
			deviceID = deviceID[:8] + ".."
		}
		owner := d.ClaimOwner
		if owner == "" {
			owner = "-"
		}
		if len(owner) > 14 {
			owner = owner[:14] + ".."
		}

		cells := []string{icon, deviceID, d.Driver, d.OperationState, owner, d.FingerPresent}
		for i, col := range columns {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			styled := lipgloss.NewStyle().Width(col.Width).Render(cell)
			b.WriteString(styled + " ")
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n%s %d readers\n", styles.Muted.Render("Total:"), len(devices)))

	return b.String()
}

// HistoryRow represents one completed operation for table display.
type HistoryRow struct {
	DeviceID string
	Kind     string
	Caller   string
	Outcome  string
	Started  string
	Duration string
}

// RenderHistoryTable renders a table of past enroll/verify/identify runs.
func RenderHistoryTable(records []HistoryRow) string {
	styles := DefaultStyles()
	var b strings.Builder

	b.WriteString(styles.Title.Render("Operation History") + "\n\n")

	if len(records) == 0 {
		b.WriteString(styles.Muted.Render("  No recorded operations\n"))
		return b.String()
	}

	columns := []Column{
		{Title: "STATUS", Width: 8},
		{Title: "DEVICE", Width: 10},
		{Title: "KIND", Width: 10},
		{Title: "CALLER", Width: 16},
		{Title: "STARTED", Width: 20},
		{Title: "DURATION", Width: 10},
	}

	var headerLine string
	for _, col := range columns {
		cell := styles.TableHeader.Width(col.Width).Render(col.Title)
		headerLine += cell + " "
	}
	b.WriteString(headerLine + "\n")

	for _, col := range columns {
		b.WriteString(styles.Muted.Render(strings.Repeat("─", col.Width)) + " ")
	}
	b.WriteString("\n")

	for _, r := range records {
		icon := styles.StatusIcon(r.Outcome)

		deviceID := r.DeviceID
		if len(deviceID) > 8 {
			deviceID = deviceID[:8] + ".."
		}
		caller := r.Caller
		if len(caller) > 14 {
			caller = caller[:14] + ".."
		}

		cells := []string{icon, deviceID, r.Kind, caller, r.Started, r.Duration}
		for i, col := range columns {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			styled := lipgloss.NewStyle().Width(col.Width).Render(cell)
			b.WriteString(styled + " ")
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n%s %d operations\n", styles.Muted.Render("Total:"), len(records)))

	return b.String()
}
