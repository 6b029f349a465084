package busapi

import (
	"github.com/godbus/dbus/v5"

	"github.com/fprintd-go/fprintd/manager"
)

// managerObject is the exported net.reactivated.Fprint.Manager object
// (§6 "Manager operations").
type managerObject struct {
	mgr *manager.Manager
}

func (m *managerObject) GetDevices() ([]dbus.ObjectPath, *dbus.Error) {
	devices := m.mgr.GetDevices()
	out := make([]dbus.ObjectPath, 0, len(devices))
	for _, path := range devices {
		out = append(out, dbus.ObjectPath(path))
	}
	return out, nil
}

func (m *managerObject) GetDefaultDevice() (dbus.ObjectPath, *dbus.Error) {
	path, err := m.mgr.GetDefaultDevice()
	if err != nil {
		return "", toDBusError(err)
	}
	return dbus.ObjectPath(path), nil
}
