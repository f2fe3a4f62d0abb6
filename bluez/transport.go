package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/logger"
)

// pollInterval is how often Connect re-reads Connected and ServicesResolved
const pollInterval = 250 * time.Millisecond

// Transport talks to a recorder through BlueZ on the system bus
type Transport struct {
	conn    *dbus.Conn
	adapter string
	events  chan fts.Event
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	device  dbus.ObjectPath
	chars   map[fts.Characteristic]dbus.ObjectPath
	byPath  map[dbus.ObjectPath]fts.Characteristic
	rule    string
	signals chan *dbus.Signal
	stop    chan struct{}
	closing bool
}

// NewTransport connects to the system bus and uses adapter ("hci0")
func NewTransport(adapter string) (*Transport, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}
	return &Transport{
		conn:    conn,
		adapter: adapter,
		events:  make(chan fts.Event, 1024),
		done:    make(chan struct{}),
	}, nil
}

func (t *Transport) tag() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return logger.Tag(string(t.device), "BlueZ")
}

// Events implements link.Transport
func (t *Transport) Events() <-chan fts.Event {
	return t.events
}

// Close implements link.Transport. It stops the signal watch and drops any
// event nobody is left to read. The shared system bus stays open.
func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.unwatch()
	})
	return nil
}

func (t *Transport) emit(ev fts.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// Connect asks BlueZ to connect and waits until the GATT database is resolved
func (t *Transport) Connect(ctx context.Context, address string) error {
	device := DevicePath(t.adapter, address)
	t.mu.Lock()
	t.device = device
	t.closing = false
	t.chars = nil
	t.byPath = nil
	t.mu.Unlock()

	obj := t.conn.Object(busName, device)
	if err := obj.CallWithContext(ctx, deviceInterface+".Connect", 0).Err; err != nil {
		return errors.Wrapf(err, "failed to connect to %s", address)
	}

	if err := t.waitResolved(ctx, obj); err != nil {
		obj.Call(deviceInterface+".Disconnect", 0)
		return err
	}

	if err := t.watch(device); err != nil {
		obj.Call(deviceInterface+".Disconnect", 0)
		return err
	}
	logger.Info(t.tag(), "✅ Connected to %s, services resolved", address)
	return nil
}

func (t *Transport) waitResolved(ctx context.Context, obj dbus.BusObject) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var props map[string]dbus.Variant
		err := obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, deviceInterface).Store(&props)
		if err == nil && boolProp(props, "Connected") && boolProp(props, "ServicesResolved") {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for services to resolve")
		case <-ticker.C:
		}
	}
}

// watch routes PropertiesChanged signals under device into events
func (t *Transport) watch(device dbus.ObjectPath) error {
	rule := fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',path_namespace='%s'", propertiesInterface, device)
	if err := t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return errors.Wrap(err, "failed to add match rule")
	}

	signals := make(chan *dbus.Signal, 256)
	stop := make(chan struct{})
	t.conn.Signal(signals)

	t.mu.Lock()
	t.rule = rule
	t.signals = signals
	t.stop = stop
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case sig := <-signals:
				if sig == nil {
					continue
				}
				t.mu.Lock()
				ev := translateSignal(sig, t.device, t.byPath)
				closing := t.closing
				t.mu.Unlock()

				if ev == nil {
					continue
				}
				if _, lost := ev.(fts.LinkLost); lost {
					if closing {
						continue
					}
					logger.Warn(t.tag(), "❌ Recorder dropped the link")
					t.unwatch()
				}
				t.emit(ev)
			}
		}
	}()
	return nil
}

func (t *Transport) unwatch() {
	t.mu.Lock()
	rule, signals, stop := t.rule, t.signals, t.stop
	t.rule, t.signals, t.stop = "", nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	t.conn.RemoveSignal(signals)
	t.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	close(stop)
}

// translateSignal turns a PropertiesChanged signal into a session event, or nil
func translateSignal(sig *dbus.Signal, device dbus.ObjectPath, chars map[dbus.ObjectPath]fts.Characteristic) fts.Event {
	if sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return nil
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	switch iface {
	case characteristicInterface:
		c, ok := chars[sig.Path]
		if !ok {
			return nil
		}
		v, ok := changed["Value"]
		if !ok {
			return nil
		}
		value, ok := v.Value().([]byte)
		if !ok {
			return nil
		}
		return fts.NotificationReceived{Characteristic: c, Value: value}

	case deviceInterface:
		if sig.Path != device {
			return nil
		}
		if v, ok := changed["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok && !connected {
				return fts.LinkLost{Err: errors.Wrapf(fts.ErrLinkLost, "%s reported Connected=false", device)}
			}
		}
	}
	return nil
}

// DiscoverServices reads the resolved GATT database from the object manager
func (t *Transport) DiscoverServices(ctx context.Context) (fts.Surface, error) {
	var objects managedObjects
	err := t.conn.Object(busName, "/").CallWithContext(ctx, objectManagerInterface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return fts.Surface{}, errors.Wrap(err, "failed to get managed objects")
	}

	t.mu.Lock()
	device := t.device
	t.mu.Unlock()

	surface, chars := resolveSurface(objects, device)
	byPath := make(map[dbus.ObjectPath]fts.Characteristic, len(chars))
	for c, p := range chars {
		byPath[p] = c
	}

	t.mu.Lock()
	t.chars = chars
	t.byPath = byPath
	t.mu.Unlock()

	logger.Debug(t.tag(), "🔍 Found %d file transfer characteristics", len(chars))
	return surface, nil
}

func (t *Transport) characteristic(c fts.Characteristic) (dbus.BusObject, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.chars[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fts.ErrCharacteristicNotFound, c)
	}
	return t.conn.Object(busName, path), nil
}

// EnableNotification calls StartNotify, which makes BlueZ write the CCCD.
// The outcome is reported as fts.DescriptorWritten.
func (t *Transport) EnableNotification(c fts.Characteristic) error {
	obj, err := t.characteristic(c)
	if err != nil {
		return err
	}

	go func() {
		err := obj.Call(characteristicInterface+".StartNotify", 0).Err
		if err != nil {
			err = errors.Wrapf(err, "StartNotify %s", c)
			logger.Warn(t.tag(), "❌ %v", err)
		} else {
			logger.Debug(t.tag(), "🔔 Notifications on for %s", c)
		}
		t.emit(fts.DescriptorWritten{Characteristic: c, Err: err})
	}()
	return nil
}

// WriteCommand writes to CommandOut without response
func (t *Transport) WriteCommand(data []byte) error {
	obj, err := t.characteristic(fts.CommandOut)
	if err != nil {
		return err
	}
	options := map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
	if err := obj.Call(characteristicInterface+".WriteValue", 0, data, options).Err; err != nil {
		return errors.Wrap(err, "WriteValue")
	}
	return nil
}

// Disconnect drops the link. No LinkLost is reported for it.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	device := t.device
	t.closing = true
	t.mu.Unlock()

	t.unwatch()
	if device == "" {
		return nil
	}
	if err := t.conn.Object(busName, device).Call(deviceInterface+".Disconnect", 0).Err; err != nil {
		return errors.Wrapf(err, "failed to disconnect %s", device)
	}
	return nil
}

// ScanFor lists devices BlueZ already knows whose name starts with prefix
func (t *Transport) ScanFor(prefix string) ([]Device, error) {
	var objects managedObjects
	if err := t.conn.Object(busName, "/").Call(objectManagerInterface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, errors.Wrap(err, "failed to get managed objects")
	}
	return devicesWithPrefix(objects, AdapterPath(t.adapter), prefix), nil
}

// Discover runs adapter discovery for d so new recorders show up in ScanFor
func (t *Transport) Discover(ctx context.Context, d time.Duration) error {
	adapter := t.conn.Object(busName, AdapterPath(t.adapter))
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if err := adapter.Call(adapterInterface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		logger.Warn(logger.Tag(t.adapter, "BlueZ"), "⚠️  Discovery filter rejected: %v", err)
	}
	if err := adapter.Call(adapterInterface+".StartDiscovery", 0).Err; err != nil {
		return errors.Wrap(err, "failed to start discovery")
	}
	defer adapter.Call(adapterInterface+".StopDiscovery", 0)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
