// Package fprintd implements a privileged broker for fingerprint-reader
// hardware: it mediates between unprivileged clients and an opaque driver
// library, serializing operations per device, enforcing authorization,
// persisting enrolled prints, and coordinating with system suspend/resume.
//
// # Layout
//
// The root package holds the shared data model (Finger, Print, Device,
// error Kind) consumed by every subpackage:
//
//	store      - persistence for enrolled prints (file and sqlite backends)
//	policy     - operation -> permission mapping and acting-user resolution
//	capability - uniform adapter over the opaque driver, plus a simulated driver
//	claim      - single-owner-per-device reservation tracking
//	opfsm      - the per-device operation state machine (enroll/verify/identify/delete)
//	session    - per-device facade composing policy+capability+claim+opfsm
//	manager    - device discovery, hotplug, lifetime, idle-exit
//	suspend    - sleep-inhibitor coordination across all devices
//	busapi     - the net.reactivated.Fprint D-Bus service
//	cmd/fprintd       - the daemon entrypoint
//	cmd/fprint-helper - the login-time verify helper
//	cmd/fprint-mon    - a monitor CLI/TUI
package fprintd
