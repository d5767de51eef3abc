// Package bluez dials RFCOMM links to a paired peripheral through the
// BlueZ D-Bus API, using the serial-port profile to receive the socket fd.
package bluez

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

const (
	busName            = "org.bluez"
	deviceIface        = "org.bluez.Device1"
	profileManagerPath = "/org/bluez"
	profileManagerIfce = "org.bluez.ProfileManager1"
	profileIface       = "org.bluez.Profile1"
	profilePath        = "/sensebridge/profile/serial"
	serialPortUUID     = "00001101-0000-1000-8000-00805f9b34fb"
)

// Probe reports whether the BlueZ daemon is reachable on the system bus.
// Used for capability detection.
func Probe() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus unavailable: %w", err)
	}

	var owner string
	call := conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, busName)
	if call.Err != nil {
		return fmt.Errorf("bluez not running: %w", call.Err)
	}
	return call.Store(&owner)
}

// Transport implements ports.WearableTransport over BlueZ.
type Transport struct {
	dialTimeout time.Duration

	mu         sync.Mutex
	registered bool
	profile    *profile
}

func NewTransport() *Transport {
	return &Transport{dialTimeout: 10 * time.Second}
}

// Dial connects the serial profile on the peripheral and waits for BlueZ to
// hand over the RFCOMM file descriptor.
func (t *Transport) Dial(ctx context.Context, endpoint domain.WearableEndpoint) (ports.WearableConn, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus unavailable: %w", err)
	}

	prof, err := t.ensureProfile(conn)
	if err != nil {
		return nil, err
	}

	devicePath, err := findDevicePath(conn, endpoint.MAC)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	fdC := prof.expect(devicePath)
	device := conn.Object(busName, devicePath)
	call := device.CallWithContext(dialCtx, deviceIface+".ConnectProfile", 0, serialPortUUID)
	if call.Err != nil {
		prof.forget(devicePath)
		return nil, fmt.Errorf("connect profile failed for %s: %w", endpoint.MAC, call.Err)
	}

	select {
	case fd := <-fdC:
		return newRFCOMMConn(fd, endpoint), nil
	case <-dialCtx.Done():
		prof.forget(devicePath)
		return nil, fmt.Errorf("no connection from bluez for %s: %w", endpoint.MAC, dialCtx.Err())
	}
}

func (t *Transport) ensureProfile(conn *dbus.Conn) (*profile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.registered {
		return t.profile, nil
	}

	prof := newProfile()
	if err := conn.Export(prof, profilePath, profileIface); err != nil {
		return nil, fmt.Errorf("failed to export profile object: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Name": dbus.MakeVariant("sensebridge-serial"),
		"Role": dbus.MakeVariant("client"),
	}
	manager := conn.Object(busName, dbus.ObjectPath(profileManagerPath))
	call := manager.Call(profileManagerIfce+".RegisterProfile", 0,
		dbus.ObjectPath(profilePath), serialPortUUID, opts)
	if call.Err != nil {
		return nil, fmt.Errorf("failed to register serial profile: %w", call.Err)
	}

	t.registered = true
	t.profile = prof
	return prof, nil
}

// profile receives NewConnection callbacks from BlueZ and routes the fd to
// the dial waiting on the matching device path.
type profile struct {
	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan int
}

func newProfile() *profile {
	return &profile{waiters: make(map[dbus.ObjectPath]chan int)}
}

func (p *profile) expect(device dbus.ObjectPath) <-chan int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan int, 1)
	p.waiters[device] = ch
	return ch
}

func (p *profile) forget(device dbus.ObjectPath) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, device)
}

// NewConnection is called by BlueZ on the exported object when the profile
// link comes up.
func (p *profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	ch, ok := p.waiters[device]
	if ok {
		delete(p.waiters, device)
	}
	p.mu.Unlock()

	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("unexpected connection from %s", device))
	}
	ch <- int(fd)
	return nil
}

// RequestDisconnection is called by BlueZ when the link should be dropped.
func (p *profile) RequestDisconnection(dbus.ObjectPath) *dbus.Error {
	return nil
}

// Release is called by BlueZ when the profile registration is withdrawn.
func (p *profile) Release() *dbus.Error {
	return nil
}

func findDevicePath(conn *dbus.Conn, mac string) (dbus.ObjectPath, error) {
	if strings.TrimSpace(mac) == "" {
		return "", fmt.Errorf("no wearable address configured")
	}
	suffix := "dev_" + strings.ToUpper(strings.ReplaceAll(mac, ":", "_"))

	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := conn.Object(busName, "/")
	if err := root.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return "", fmt.Errorf("failed to enumerate bluez objects: %w", err)
	}

	for path, ifaces := range managed {
		if _, ok := ifaces[deviceIface]; !ok {
			continue
		}
		if strings.HasSuffix(string(path), suffix) {
			return path, nil
		}
	}
	return "", fmt.Errorf("wearable %s is not known to bluez (pair it first)", mac)
}

// rfcommConn wraps the fd handed over by BlueZ.
type rfcommConn struct {
	file     *os.File
	endpoint domain.WearableEndpoint
}

func newRFCOMMConn(fd int, endpoint domain.WearableEndpoint) *rfcommConn {
	name := fmt.Sprintf("rfcomm:%s", endpoint.MAC)
	return &rfcommConn{file: os.NewFile(uintptr(fd), name), endpoint: endpoint}
}

func (c *rfcommConn) Send(frame []byte) error {
	_, err := c.file.Write(frame)
	return err
}

func (c *rfcommConn) ReadReply(timeout time.Duration) ([]byte, error) {
	if err := c.file.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() { _ = c.file.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 1024)
	n, err := c.file.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *rfcommConn) Close() error {
	return c.file.Close()
}
