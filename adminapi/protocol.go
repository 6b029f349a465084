// Package adminapi implements the monitor/admin side-channel named in
// SPEC_FULL.md §6: a small JSON request/response protocol served over a
// Unix domain socket, consumed only by cmd/fprint-mon. It plays the same
// architectural role as the teacher's tui/admin_client.go talking to a
// running daemon, adapted to JSON-over-Unix-socket instead of
// Connect-RPC-over-protobuf (see DESIGN.md for why the generated-stub
// library was dropped rather than hand-faked).
package adminapi

import "time"

// Request is one line of the wire protocol: {"op":"snapshot"} or
// {"op":"history","device_id":"...","limit":20}.
type Request struct {
	Op       string `json:"op"`
	DeviceID string `json:"device_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Response carries exactly one of Snapshot or History, or a non-empty
// Error.
type Response struct {
	Error    string        `json:"error,omitempty"`
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
	History  []AuditRecord `json:"history,omitempty"`
}

// DeviceSnapshot is one device's reported state, deliberately a read-only
// projection of session.Snapshot plus its published path - it carries no
// information the daemon itself uses to make authorization or
// state-machine decisions.
type DeviceSnapshot struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	Name           string `json:"name"`
	Driver         string `json:"driver"`
	OperationState string `json:"operation_state"`
	Claimed        bool   `json:"claimed"`
	ClaimOwner     string `json:"claim_owner,omitempty"`
	Busy           bool   `json:"busy"`
	FingerPresent  bool   `json:"finger_present"`
}

// Snapshot is the full device/claim/operation table requested by
// {"op":"snapshot"}.
type Snapshot struct {
	Draining bool             `json:"draining"`
	Devices  []DeviceSnapshot `json:"devices"`
}

// AuditRecord mirrors audit.Record field-for-field (same names, types,
// and order) so a []audit.Record converts to []AuditRecord directly;
// adminapi keeps its own type rather than importing audit's so the wire
// schema doesn't change shape if the journal's storage format ever does.
type AuditRecord struct {
	RunID     string    `json:"run_id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	CallerID  string    `json:"caller_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   string    `json:"outcome"`
}
