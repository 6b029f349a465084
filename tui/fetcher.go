package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/fprintd-go/fprintd/adminapi"
)

// DataFetcher retrieves dashboard data from the running daemon's admin
// socket, grounded on the teacher's DataFetcher shape (one fetch call per
// tick, partial results on error so the dashboard degrades gracefully).
type DataFetcher struct {
	client *adminapi.Client
}

// NewDataFetcher creates a new data fetcher bound to an admin client.
func NewDataFetcher(client *adminapi.Client) *DataFetcher {
	return &DataFetcher{client: client}
}

// FetchDashboardData retrieves the current snapshot and recent history.
// It returns an error if the admin socket is unreachable (used to drive
// the dashboard's connection indicator) while still returning whatever
// partial data could be gathered.
func (f *DataFetcher) FetchDashboardData(ctx context.Context) (*DashboardUpdateMsg, error) {
	msg := &DashboardUpdateMsg{}

	snap, err := f.client.Snapshot(ctx)
	if err != nil {
		return msg, fmt.Errorf("fetch snapshot: %w", err)
	}
	msg.Draining = snap.Draining
	msg.Devices = snap.Devices

	history, histErr := f.client.History(ctx, "", 20)
	if histErr == nil {
		msg.History = history
	}

	return msg, nil
}

// historyToLog converts audit records into activity-log entries, newest
// first, for display in the dashboard's log panel.
func historyToLog(records []adminapi.AuditRecord) []LogEntry {
	entries := make([]LogEntry, 0, len(records))
	for _, r := range records {
		level := "info"
		if r.Outcome != "completed" && r.Outcome != "success" {
			level = "warn"
		}
		entries = append(entries, LogEntry{
			Timestamp: r.EndedAt,
			Level:     level,
			Message: fmt.Sprintf("%s %s on %s: %s (%s)",
				r.Kind, r.CallerID, r.DeviceID, r.Outcome, r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond)),
		})
	}
	return entries
}
