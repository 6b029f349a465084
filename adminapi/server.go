package adminapi

import (
	"encoding/json"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/fprintd-go/fprintd/audit"
	"github.com/fprintd-go/fprintd/manager"
)

// Server serves Request/Response pairs over a Unix domain socket, one
// connection per request-response round trip - adminapi is a monitoring
// side-channel, not a persistent session protocol, so there is no benefit
// to keeping connections open between requests.
type Server struct {
	mgr     *manager.Manager
	journal *audit.Journal // nil disables the "history" op
	ln      net.Listener
	log     logrus.FieldLogger
}

// Listen binds socketPath, removing a stale socket left by a prior crash
// (the daemon's lock file, not this socket, is what actually guards
// against two daemons running at once).
func Listen(socketPath string, mgr *manager.Manager, journal *audit.Journal) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		mgr:     mgr,
		journal: journal,
		ln:      ln,
		log:     logrus.WithField("component", "adminapi"),
	}, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	resp := s.dispatch(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.WithError(err).Warn("encode admin response")
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Op {
	case "snapshot":
		return Response{Snapshot: s.snapshot()}
	case "history":
		return s.history(req)
	default:
		return Response{Error: "unknown op: " + req.Op}
	}
}

func (s *Server) snapshot() *Snapshot {
	devices := s.mgr.GetDevices()
	out := &Snapshot{Draining: s.mgr.Draining(), Devices: make([]DeviceSnapshot, 0, len(devices))}
	for id, path := range devices {
		sess, err := s.mgr.SessionFor(id)
		if err != nil {
			continue
		}
		desc := sess.Describe()
		snap := sess.Snapshot()
		out.Devices = append(out.Devices, DeviceSnapshot{
			ID:             id,
			Path:           path,
			Name:           desc.Name,
			Driver:         desc.Driver,
			OperationState: snap.OperationState,
			Claimed:        snap.Claimed,
			ClaimOwner:     snap.ClaimOwner,
			Busy:           snap.Properties.Busy,
			FingerPresent:  snap.Properties.FingerPresent,
		})
	}
	return out
}

func (s *Server) history(req Request) Response {
	if s.journal == nil {
		return Response{Error: "audit journal is disabled"}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	var (
		recs []audit.Record
		err  error
	)
	if req.DeviceID != "" {
		recs, err = s.journal.ForDevice(req.DeviceID, limit)
	} else {
		recs, err = s.journal.Recent(limit)
	}
	if err != nil {
		return Response{Error: err.Error()}
	}
	out := make([]AuditRecord, len(recs))
	for i, r := range recs {
		out[i] = AuditRecord(r)
	}
	return Response{History: out}
}
