//go:build linux

package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = notifyDest + ".Notify"
	closeMethod  = notifyDest + ".CloseNotification"
	desktopEntry = "jukebox"
)

type dbusNotifier struct {
	obj dbus.BusObject
}

// New connects to the session bus. It fails with ErrUnavailable when there
// is no session bus, which is the normal case for a headless player.
func New() (Notifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &dbusNotifier{obj: conn.Object(notifyDest, notifyPath)}, nil
}

func (d *dbusNotifier) Notify(n Notification) (uint32, error) {
	// Notify(app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout)
	call := d.obj.Call(notifyMethod, 0,
		AppName, n.ReplacesID, "", n.Title, n.Body, []string{}, hints(n), expireTimeout(n))
	if call.Err != nil {
		return 0, fmt.Errorf("sending notification: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("reading notification id: %w", err)
	}
	return id, nil
}

func (d *dbusNotifier) Close(id uint32) error {
	return d.obj.Call(closeMethod, 0, id).Err
}

func hints(n Notification) map[string]dbus.Variant {
	h := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(byte(n.Urgency)),
		"desktop-entry": dbus.MakeVariant(desktopEntry),
	}
	if n.Category != "" {
		h["category"] = dbus.MakeVariant(n.Category)
	}
	// Low urgency notices should not pile up in the history.
	if n.Urgency == UrgencyLow {
		h["transient"] = dbus.MakeVariant(true)
	}
	return h
}
