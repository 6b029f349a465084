// Package main implements the Authentication Helper named in SPEC_FULL.md
// §4.9: an argv-driven PAM-style client that claims the enrolled-print-
// richest device for the invoking user and drives one verify attempt per
// try, up to max-tries, translating the daemon's signals into one of
// four outcomes on exit. Argv/flag wiring follows
// cmd/flyio-image-manager/main.go's parse*Flags convention; the fixed
// inter-attempt backoff is grounded on download/fsm.go's use of
// cenkalti/backoff/v4 to space transient-error retries.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
)

// Exit codes, following the helper's host API (§6 "helper follows its
// host API (success/auth-err/authinfo-unavail/maxtries)").
const (
	exitSuccess         = 0
	exitAuthErr         = 1
	exitAuthInfoUnavail = 2
	exitMaxTries        = 3

	busName      = "net.reactivated.Fprint"
	managerPath  = dbus.ObjectPath("/net/reactivated/Fprint/Manager")
	managerIface = "net.reactivated.Fprint.Manager"
	deviceIface  = "net.reactivated.Fprint.Device"
)

type options struct {
	debug    bool
	maxTries int
	timeout  time.Duration
}

func parseOptions(args []string) options {
	opts := options{maxTries: 3, timeout: 30 * time.Second}
	for _, tok := range args {
		key, value, hasValue := strings.Cut(tok, "=")
		switch key {
		case "debug":
			if !hasValue {
				opts.debug = true
				continue
			}
			switch strings.ToLower(value) {
			case "on", "1", "true":
				opts.debug = true
			}
		case "max-tries":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 {
				opts.maxTries = n
			}
		case "timeout":
			if s, err := strconv.Atoi(value); err == nil && s >= 10 {
				opts.timeout = time.Duration(s) * time.Second
			} else {
				opts.timeout = 10 * time.Second
			}
		}
	}
	return opts
}

func main() {
	opts := parseOptions(os.Args[1:])
	os.Exit(run(opts))
}

func run(opts options) int {
	if isRemoteSession() {
		logDebug(opts, "rejecting remote session")
		return exitAuthInfoUnavail
	}

	u, err := user.Current()
	if err != nil {
		logDebug(opts, "cannot resolve acting user: %v", err)
		return exitAuthInfoUnavail
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logDebug(opts, "cannot connect to system bus: %v", err)
		return exitAuthInfoUnavail
	}
	defer conn.Close()

	devicePath, err := selectDevice(conn, u.Username)
	if err != nil {
		logDebug(opts, "device selection failed: %v", err)
		return exitAuthInfoUnavail
	}

	return runVerify(conn, devicePath, u.Username, opts)
}

// isRemoteSession rejects logins over a remote session (§4.9): PAM sets
// PAM_RHOST for the originating host, SSH sets SSH_CONNECTION.
func isRemoteSession() bool {
	for _, key := range []string{"PAM_RHOST", "SSH_CONNECTION", "SSH_CLIENT"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		host := strings.Fields(v)[0]
		if host != "" && host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return true
		}
	}
	return false
}

// selectDevice picks the device with the most enrolled prints for
// username (§4.9 "maximum enrolled-print count for the acting user").
func selectDevice(conn *dbus.Conn, username string) (dbus.ObjectPath, error) {
	mgrObj := conn.Object(busName, managerPath)
	var paths []dbus.ObjectPath
	if err := mgrObj.Call(managerIface+".GetDevices", 0).Store(&paths); err != nil {
		return "", fmt.Errorf("GetDevices: %w", err)
	}
	if len(paths) == 0 {
		return "", errors.New("no devices available")
	}

	best := paths[0]
	bestCount := -1
	for _, p := range paths {
		devObj := conn.Object(busName, p)
		var fingers []string
		if err := devObj.Call(deviceIface+".ListEnrolledFingers", 0, username).Store(&fingers); err != nil {
			continue
		}
		if len(fingers) > bestCount {
			bestCount = len(fingers)
			best = p
		}
	}
	return best, nil
}

// runVerify claims the device and drives up to opts.maxTries verify
// attempts, returning the exit code for the overall operation.
func runVerify(conn *dbus.Conn, path dbus.ObjectPath, username string, opts options) int {
	devObj := conn.Object(busName, path)

	if call := devObj.Call(deviceIface+".Claim", 0, username); call.Err != nil {
		logDebug(opts, "claim failed: %v", call.Err)
		return exitAuthInfoUnavail
	}

	ownerLost := watchOwnerChange(conn)

	sigCh := make(chan *dbus.Signal, 16)
	conn.Signal(sigCh)
	defer conn.RemoveSignal(sigCh)
	conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(deviceIface),
	)

	bo := backoff.NewConstantBackOff(200 * time.Millisecond)

	for attempt := 1; attempt <= opts.maxTries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		outcome := attemptVerify(ctx, devObj, sigCh, ownerLost, opts)
		cancel()

		devObj.Call(deviceIface+".VerifyStop", 0)

		switch outcome {
		case verifyMatch:
			// Bypass Release: a disconnect closes the session cleanly via
			// the Claim Registry's vanish path (§4.9).
			return exitSuccess
		case verifyNoMatch:
			if attempt < opts.maxTries {
				time.Sleep(bo.NextBackOff())
				continue
			}
			devObj.Call(deviceIface+".Release", 0)
			return exitMaxTries
		case verifyUnavailable:
			devObj.Call(deviceIface+".Release", 0)
			return exitAuthInfoUnavail
		case verifyUnrecognised:
			devObj.Call(deviceIface+".Release", 0)
			return exitAuthErr
		}
	}
	devObj.Call(deviceIface+".Release", 0)
	return exitMaxTries
}

type verifyResult int

const (
	verifyNoMatch verifyResult = iota
	verifyMatch
	verifyUnavailable
	verifyUnrecognised
)

// attemptVerify starts one verify attempt and blocks for its terminal
// VerifyStatus, the owner-change watch, or the per-attempt timeout.
func attemptVerify(ctx context.Context, devObj dbus.BusObject, sigCh <-chan *dbus.Signal, ownerLost <-chan struct{}, opts options) verifyResult {
	if call := devObj.Call(deviceIface+".VerifyStart", 0, "any"); call.Err != nil {
		return verifyUnavailable
	}

	for {
		select {
		case <-ctx.Done():
			return verifyUnavailable
		case <-ownerLost:
			return verifyUnavailable
		case sig, ok := <-sigCh:
			if !ok {
				return verifyUnavailable
			}
			if strings.HasSuffix(sig.Name, ".VerifyFingerSelected") {
				continue
			}
			if !strings.HasSuffix(sig.Name, ".VerifyStatus") || len(sig.Body) < 2 {
				continue
			}
			result, _ := sig.Body[0].(string)
			done, _ := sig.Body[1].(bool)
			if !done {
				continue
			}
			logDebug(opts, "verify terminal status: %s", result)
			return classifyVerifyStatus(result)
		}
	}
}

func classifyVerifyStatus(result string) verifyResult {
	switch result {
	case "verify-match":
		return verifyMatch
	case "verify-no-match":
		return verifyNoMatch
	case "verify-disconnected", "verify-unknown-error":
		return verifyUnavailable
	default:
		return verifyUnrecognised
	}
}

// watchOwnerChange returns a channel closed when the service's bus owner
// changes mid-operation (§4.9: "any change mid-operation → authinfo-unavail").
func watchOwnerChange(conn *dbus.Conn) <-chan struct{} {
	lost := make(chan struct{})
	ch := make(chan *dbus.Signal, 4)
	conn.Signal(ch)
	conn.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/freedesktop/DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	)
	go func() {
		defer close(lost)
		for sig := range ch {
			if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) < 1 {
				continue
			}
			if name, ok := sig.Body[0].(string); ok && name == busName {
				return
			}
		}
	}()
	return lost
}

func logDebug(opts options, format string, args ...any) {
	if !opts.debug {
		return
	}
	fmt.Fprintf(os.Stderr, "fprint-helper: "+format+"\n", args...)
}
