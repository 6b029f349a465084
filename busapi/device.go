package busapi

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/fprintd-go/fprintd"
	"github.com/fprintd-go/fprintd/session"
)

// deviceObject is the exported net.reactivated.Fprint.Device object for
// one Session. Every method takes a trailing dbus.Sender, which godbus
// populates with the caller's unique bus name instead of an on-wire
// argument - that name is both the caller id and what
// callerOSUser resolves against the Policy Gate's OS-user check.
type deviceObject struct {
	conn    *dbus.Conn
	session *session.Session
	path    dbus.ObjectPath
	props   *prop.Properties
}

func (d *deviceObject) Claim(requestedUser string, sender dbus.Sender) *dbus.Error {
	callerID := string(sender)
	osUser := callerOSUser(d.conn, sender)
	if err := d.session.Claim(context.Background(), callerID, requestedUser, osUser); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) Release(sender dbus.Sender) *dbus.Error {
	if err := d.session.Release(context.Background(), string(sender)); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) VerifyStart(finger string, sender dbus.Sender) *dbus.Error {
	f, err := fprintd.ParseFinger(finger)
	if err != nil {
		return toDBusError(err)
	}
	if err := d.session.VerifyStart(context.Background(), string(sender), f); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) VerifyStop(sender dbus.Sender) *dbus.Error {
	if err := d.session.VerifyStop(context.Background(), string(sender)); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) EnrollStart(finger string, sender dbus.Sender) *dbus.Error {
	f, err := fprintd.ParseFinger(finger)
	if err != nil {
		return toDBusError(err)
	}
	if err := d.session.EnrollStart(context.Background(), string(sender), f); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) EnrollStop(sender dbus.Sender) *dbus.Error {
	if err := d.session.EnrollStop(context.Background(), string(sender)); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) ListEnrolledFingers(requestedUser string, sender dbus.Sender) ([]string, *dbus.Error) {
	osUser := callerOSUser(d.conn, sender)
	fingers, err := d.session.ListEnrolledFingers(context.Background(), string(sender), requestedUser, osUser)
	if err != nil {
		return nil, toDBusError(err)
	}
	out := make([]string, len(fingers))
	for i, f := range fingers {
		out[i] = f.String()
	}
	return out, nil
}

func (d *deviceObject) DeleteEnrolledFingers(requestedUser string, sender dbus.Sender) *dbus.Error {
	osUser := callerOSUser(d.conn, sender)
	if err := d.session.DeleteEnrolledFingers(context.Background(), string(sender), requestedUser, osUser); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) DeleteEnrolledFingers2(sender dbus.Sender) *dbus.Error {
	if err := d.session.DeleteEnrolledFingers2(context.Background(), string(sender)); err != nil {
		return toDBusError(err)
	}
	return nil
}

func (d *deviceObject) DeleteEnrolledFinger(finger string, sender dbus.Sender) *dbus.Error {
	f, err := fprintd.ParseFinger(finger)
	if err != nil {
		return toDBusError(err)
	}
	if err := d.session.DeleteEnrolledFinger(context.Background(), string(sender), f); err != nil {
		return toDBusError(err)
	}
	return nil
}

// handleEvent turns one session.Event into the matching device signal
// (§6 "Device signals").
func (d *deviceObject) handleEvent(ev session.Event) {
	switch ev.Kind {
	case "verify-status":
		d.conn.Emit(d.path, deviceIface+".VerifyStatus", ev.Status, ev.Done)
	case "verify-finger-selected":
		d.conn.Emit(d.path, deviceIface+".VerifyFingerSelected", ev.Finger.String())
	case "enroll-status":
		d.conn.Emit(d.path, deviceIface+".EnrollStatus", ev.Status, ev.Done)
	}
}

// handleProperties pushes the latest cached Properties through the
// org.freedesktop.DBus.Properties.PropertiesChanged signal.
func (d *deviceObject) handleProperties(p session.Properties) {
	if d.props == nil {
		return
	}
	d.props.SetMust(deviceIface, "FingerPresent", p.FingerPresent)
	d.props.SetMust(deviceIface, "FingerNeeded", p.FingerNeeded)
	d.props.SetMust(deviceIface, "Busy", p.Busy)
}

func devicePropSpec(sess *session.Session) prop.Map {
	desc := sess.Describe()
	snap := sess.Properties()
	return prop.Map{
		deviceIface: {
			"Name":            {Value: desc.Name, Writable: false, Emit: prop.EmitConst},
			"ScanType":        {Value: string(desc.ScanType), Writable: false, Emit: prop.EmitConst},
			"NumEnrollStages": {Value: int32(desc.EffectiveEnrollStages()), Writable: false, Emit: prop.EmitConst},
			"FingerPresent":   {Value: snap.FingerPresent, Writable: false, Emit: prop.EmitTrue},
			"FingerNeeded":    {Value: snap.FingerNeeded, Writable: false, Emit: prop.EmitTrue},
			"Busy":            {Value: snap.Busy, Writable: false, Emit: prop.EmitTrue},
		},
	}
}

func deviceIntrospection(path dbus.ObjectPath) *introspect.Node {
	strArg := func(name, direction string) introspect.Arg {
		return introspect.Arg{Name: name, Type: "s", Direction: direction}
	}
	return &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: deviceIface,
				Methods: []introspect.Method{
					{Name: "Claim", Args: []introspect.Arg{strArg("user", "in")}},
					{Name: "Release"},
					{Name: "VerifyStart", Args: []introspect.Arg{strArg("finger", "in")}},
					{Name: "VerifyStop"},
					{Name: "EnrollStart", Args: []introspect.Arg{strArg("finger", "in")}},
					{Name: "EnrollStop"},
					{Name: "ListEnrolledFingers", Args: []introspect.Arg{
						strArg("user", "in"),
						{Name: "fingers", Type: "as", Direction: "out"},
					}},
					{Name: "DeleteEnrolledFingers", Args: []introspect.Arg{strArg("user", "in")}},
					{Name: "DeleteEnrolledFingers2"},
					{Name: "DeleteEnrolledFinger", Args: []introspect.Arg{strArg("finger", "in")}},
				},
				Signals: []introspect.Signal{
					{Name: "VerifyStatus", Args: []introspect.Arg{
						{Name: "result", Type: "s"}, {Name: "done", Type: "b"},
					}},
					{Name: "VerifyFingerSelected", Args: []introspect.Arg{
						{Name: "finger", Type: "s"},
					}},
					{Name: "EnrollStatus", Args: []introspect.Arg{
						{Name: "result", Type: "s"}, {Name: "done", Type: "b"},
					}},
				},
				Properties: []introspect.Property{
					{Name: "Name", Type: "s", Access: "read"},
					{Name: "ScanType", Type: "s", Access: "read"},
					{Name: "NumEnrollStages", Type: "i", Access: "read"},
					{Name: "FingerPresent", Type: "b", Access: "read"},
					{Name: "FingerNeeded", Type: "b", Access: "read"},
					{Name: "Busy", Type: "b", Access: "read"},
				},
			},
		},
	}
}
