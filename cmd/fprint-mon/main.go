// Command fprint-mon is the read-only monitor for fprintd: a terminal
// dashboard over the admin socket showing registered readers, claim
// ownership and recent enroll/verify/identify history. Its flag/mode
// wiring follows cmd/flyio-image-manager/main.go's argv handling.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fprintd-go/fprintd/adminapi"
	"github.com/fprintd-go/fprintd/config"
	"github.com/fprintd-go/fprintd/tui"
)

func main() {
	configPath := flag.String("config", "/etc/fprintd.conf", "path to the daemon config file")
	socketPath := flag.String("socket", "", "admin socket path (overrides the config file)")
	once := flag.Bool("once", false, "print one snapshot as JSON and exit, instead of the interactive dashboard")
	refresh := flag.Duration("refresh", time.Second, "dashboard refresh interval")
	flag.Parse()

	sock := *socketPath
	if sock == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			cfg = config.DefaultConfig()
		}
		sock = cfg.AdminSocket
	}
	if sock == "" {
		fmt.Fprintln(os.Stderr, "fprint-mon: no admin socket configured (pass -socket or set admin-socket in the config file)")
		os.Exit(1)
	}

	client := adminapi.NewClient(sock)

	if *once {
		os.Exit(runOnce(client))
	}
	os.Exit(runDashboard(client, *refresh))
}

// runOnce fetches a single snapshot and prints it as JSON, for use from
// scripts and cron jobs rather than the interactive dashboard.
func runOnce(client *adminapi.Client) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := client.Snapshot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fprint-mon: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		fmt.Fprintf(os.Stderr, "fprint-mon: encode snapshot: %v\n", err)
		return 1
	}
	return 0
}

func runDashboard(client *adminapi.Client, refresh time.Duration) int {
	model := tui.NewDashboardModelWithConfig(tui.DashboardConfig{
		Title:           "fprintd monitor",
		RefreshInterval: refresh,
		Fetcher:         tui.NewDataFetcher(client),
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fprint-mon: %v\n", err)
		return 1
	}
	return 0
}
