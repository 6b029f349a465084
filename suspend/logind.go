package suspend

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"
)

// LogindInhibitor takes its lock via org.freedesktop.login1.Manager's
// Inhibit call over the system bus, the real platform backend named in
// §4.8.
type LogindInhibitor struct {
	conn *dbus.Conn
}

func NewLogindInhibitor(conn *dbus.Conn) *LogindInhibitor {
	return &LogindInhibitor{conn: conn}
}

const logindDest = "org.freedesktop.login1"
const logindPath = dbus.ObjectPath("/org/freedesktop/login1")

// Acquire calls Inhibit("sleep", who, why, "delay") and returns the
// resulting file descriptor; Release closes it. Holding the fd open is
// what delays the kernel's actual suspend until we close it.
func (l *LogindInhibitor) Acquire(ctx context.Context) (any, error) {
	obj := l.conn.Object(logindDest, logindPath)
	var fd dbus.UnixFD
	call := obj.CallWithContext(ctx, "org.freedesktop.login1.Manager.Inhibit", 0,
		"sleep", "fprintd", "fingerprint reader suspend handoff", "delay")
	if err := call.Store(&fd); err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "logind-inhibitor"), nil
}

func (l *LogindInhibitor) Release(token any) error {
	f, ok := token.(*os.File)
	if !ok || f == nil {
		return nil
	}
	return f.Close()
}

// SubscribePrepareForSleep subscribes to logind's PrepareForSleep signal
// and invokes fn(aboutToSleep) for every delivery, until ctx is done.
func SubscribePrepareForSleep(ctx context.Context, conn *dbus.Conn, fn func(bool)) error {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return err
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Name != "org.freedesktop.login1.Manager.PrepareForSleep" {
					continue
				}
				if len(sig.Body) == 0 {
					continue
				}
				if aboutToSleep, ok := sig.Body[0].(bool); ok {
					fn(aboutToSleep)
				}
			}
		}
	}()
	return nil
}
