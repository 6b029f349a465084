// Package main implements the fprintd daemon: it loads configuration,
// opens the print store and audit journal, wires the Manager, Suspend
// Coordinator and Policy Gate, publishes everything over D-Bus and the
// admin socket, and blocks until idle-exit or a shutdown signal. Its
// Config/lock-file/signal-handling shape follows
// cmd/flyio-image-manager/main.go's runDaemon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/adminapi"
	"github.com/fprintd-go/fprintd/audit"
	"github.com/fprintd-go/fprintd/busapi"
	"github.com/fprintd-go/fprintd/capability"
	"github.com/fprintd-go/fprintd/config"
	"github.com/fprintd-go/fprintd/manager"
	"github.com/fprintd-go/fprintd/policy"
	"github.com/fprintd-go/fprintd/session"
	"github.com/fprintd-go/fprintd/store"
	"github.com/fprintd-go/fprintd/suspend"
)

var log = logrus.New()

func main() {
	configPath := flag.String("config", "/etc/fprintd.conf", "path to the daemon config file")
	noTimeout := flag.Bool("no-timeout", false, "disable idle-exit")
	useSystemBus := flag.Bool("system-bus", true, "connect to the D-Bus system bus (false dials the session bus, for local testing)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Warn("failed to load config file, using defaults")
		cfg = config.DefaultConfig()
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}

	lockPath := filepath.Join(cfg.StoragePath, "fprintd.lock")
	if err := acquireLock(lockPath); err != nil {
		log.WithError(err).Fatal("failed to acquire daemon lock")
	}
	defer releaseLock(lockPath)

	if err := run(cfg, *noTimeout, *useSystemBus); err != nil {
		log.WithError(err).Fatal("daemon failed")
	}
}

func setupLogger(level string) error {
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}

func run(cfg config.Config, noTimeout, systemBus bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(store.Config{Type: cfg.StorageType, Path: cfg.StoragePath})
	if err != nil {
		return fmt.Errorf("open print store: %w", err)
	}
	if err := st.Init(); err != nil {
		return fmt.Errorf("init print store: %w", err)
	}
	defer st.Deinit()

	var journal *audit.Journal
	if cfg.AuditPath != "" {
		journal, err = audit.Open(cfg.AuditPath)
		if err != nil {
			return fmt.Errorf("open audit journal: %w", err)
		}
		defer journal.Close()
	}

	gate := policy.NewGate(policy.NewLocalBackend())

	var conn *dbus.Conn
	if systemBus {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return fmt.Errorf("connect to D-Bus: %w", err)
	}
	defer conn.Close()

	sc := suspend.New(suspend.NewLogindInhibitor(conn))
	if err := sc.Start(ctx); err != nil {
		return fmt.Errorf("start suspend coordinator: %w", err)
	}
	if systemBus {
		if err := suspend.SubscribePrepareForSleep(ctx, conn, func(aboutToSleep bool) {
			sc.OnPrepareForSleep(ctx, aboutToSleep)
		}); err != nil {
			log.WithError(err).Warn("failed to subscribe to PrepareForSleep, suspend coordination disabled")
		}
	}

	mgrCfg := manager.DefaultConfig()
	mgrCfg.NoTimeout = noTimeout
	if cfg.IdleTimeout > 0 {
		mgrCfg.IdleTimeout = cfg.IdleTimeout
	}
	mgr := manager.New(mgrCfg, gate, st, sc)
	if journal != nil {
		mgr.SetAuditSink(func(rec session.AuditRecord) {
			if err := journal.Append(audit.Record(rec)); err != nil {
				log.WithError(err).Warn("failed to append audit record")
			}
		})
	}

	bus := busapi.New(conn, mgr)
	if err := bus.ExportManager(); err != nil {
		return fmt.Errorf("export manager object: %w", err)
	}

	discoverDevices(mgr, bus)

	var adminSrv *adminapi.Server
	if cfg.AdminSocket != "" {
		adminSrv, err = adminapi.Listen(cfg.AdminSocket, mgr, journal)
		if err != nil {
			return fmt.Errorf("listen on admin socket: %w", err)
		}
		go adminSrv.Serve()
		defer adminSrv.Close()
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	log.WithFields(logrus.Fields{
		"storage":      cfg.StorageType,
		"admin_socket": cfg.AdminSocket,
	}).Info("fprintd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		// No thermal source is wired in here, so every device reports
		// cold through the Manager's tempOf hook, which exists for callers
		// with an independent thermal source.
		runErrCh <- mgr.Run(ctx, func(deviceID string) fprintd.Temperature { return fprintd.TemperatureCold })
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("received shutdown signal")
		cancel()
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("manager run loop exited")
		}
		log.Info("idle timeout reached, exiting")
	}

	return nil
}

// discoverDevices enumerates and publishes the host's readers. Only the
// simulated driver ships in this tree (no hardware is available in this
// environment); a libfprint-backed capability.Device would be discovered
// and Register-ed the same way, one call per physical reader.
func discoverDevices(mgr *manager.Manager, bus *busapi.Server) {
	desc := fprintd.Device{
		ID:              "sim0",
		Driver:          "simulated",
		Name:            "Simulated Fingerprint Reader",
		ScanType:        fprintd.ScanTypePress,
		NumEnrollStages: 5,
	}
	dev := capability.NewSimulated(capability.SimulatedConfig{Device: desc})
	if err := dev.Open(context.Background()); err != nil {
		log.WithError(err).Warn("failed to open simulated device")
		return
	}
	sess := mgr.Register(dev)
	devices := mgr.GetDevices()
	path := devices[sess.Describe().ID]
	if err := bus.PublishDevice(sess.Describe().ID, path); err != nil {
		log.WithError(err).Warn("failed to publish device")
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("metrics server exited")
	}
}

type lockInfo struct {
	PID       int   `json:"pid"`
	Timestamp int64 `json:"timestamp"`
}

func acquireLock(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return staleLockOrConflict(path)
		}
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(lockInfo{PID: os.Getpid(), Timestamp: time.Now().Unix()})
}

func staleLockOrConflict(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("daemon lock exists at %s and could not be read: %w", path, err)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("daemon lock exists at %s with unreadable contents", path)
	}
	proc, err := os.FindProcess(info.PID)
	if err == nil && proc.Signal(syscall.Signal(0)) == nil {
		return fmt.Errorf("another fprintd (pid %d) is already running, lock at %s", info.PID, path)
	}
	log.WithField("stale_pid", info.PID).Warn("removing stale daemon lock")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	return acquireLock(path)
}

func releaseLock(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to release daemon lock")
	}
}
