package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/swift"
	"github.com/user/dictofun-sync/wire"
)

// SwiftTransport drives the recorder through the CoreBluetooth-style API on
// the simulated radio. It is the central and the peripheral delegate.
type SwiftTransport struct {
	central *swift.CBCentralManager
	id      string
	events  chan fts.Event
	done    chan struct{}
	once    sync.Once

	mu         sync.Mutex
	peripheral *swift.CBPeripheral
	chars      map[fts.Characteristic]*swift.CBCharacteristic
	connected  bool
	closing    bool
	connectC   chan error
	servicesC  chan error
	charsC     chan error
}

// NewSwiftTransport creates a transport on radio w. iOS negotiates the MTU itself.
func NewSwiftTransport(w *wire.Wire) *SwiftTransport {
	t := &SwiftTransport{
		id:     w.ID(),
		events: make(chan fts.Event, 1024),
		done:   make(chan struct{}),
		chars:  make(map[fts.Characteristic]*swift.CBCharacteristic),
	}
	t.central = swift.NewCBCentralManager(t, w)
	return t
}

func (t *SwiftTransport) tag() string {
	return logger.Tag(t.id, "Transport")
}

// Events implements Transport
func (t *SwiftTransport) Events() <-chan fts.Event {
	return t.events
}

// Close implements Transport
func (t *SwiftTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *SwiftTransport) emit(ev fts.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
		logger.Debug(t.tag(), "🗑️  Transport closed, dropping %T", ev)
	}
}

// Connect implements Transport
func (t *SwiftTransport) Connect(ctx context.Context, address string) error {
	connectC := make(chan error, 1)
	p := t.central.RetrievePeripheral(address, "")
	p.Delegate = t

	t.mu.Lock()
	t.peripheral = p
	t.connectC = connectC
	t.connected = false
	t.closing = false
	t.chars = make(map[fts.Characteristic]*swift.CBCharacteristic)
	t.mu.Unlock()

	t.central.Connect(p, nil)
	select {
	case err := <-connectC:
		return err
	case <-ctx.Done():
		t.Disconnect()
		return ctx.Err()
	}
}

// DiscoverServices implements Transport
func (t *SwiftTransport) DiscoverServices(ctx context.Context) (fts.Surface, error) {
	p := t.current()
	if p == nil {
		return fts.Surface{}, ErrNotConnected
	}

	servicesC, charsC := make(chan error, 1), make(chan error, 1)
	t.mu.Lock()
	t.servicesC, t.charsC = servicesC, charsC
	t.mu.Unlock()

	p.DiscoverServices([]string{fts.ServiceUUID.String()})
	if err := waitErr(ctx, servicesC); err != nil {
		return fts.Surface{}, fmt.Errorf("service discovery: %w", err)
	}

	services := make(map[string][]string)
	for _, s := range p.Services() {
		p.DiscoverCharacteristics(nil, s)
		if err := waitErr(ctx, charsC); err != nil {
			return fts.Surface{}, fmt.Errorf("characteristic discovery: %w", err)
		}
		services[s.UUID] = nil
		for _, c := range s.Characteristics {
			services[s.UUID] = append(services[s.UUID], c.UUID)
			if id, ok := fts.CharacteristicFromUUID(c.UUID); ok {
				t.mu.Lock()
				t.chars[id] = c
				t.mu.Unlock()
			}
		}
	}
	return fts.SurfaceFromServices(services), nil
}

func waitErr(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnableNotification implements Transport
func (t *SwiftTransport) EnableNotification(c fts.Characteristic) error {
	p, char := t.current(), t.characteristic(c)
	if p == nil {
		return ErrNotConnected
	}
	if char == nil {
		return fmt.Errorf("%w: %s", fts.ErrCharacteristicNotFound, c)
	}
	return p.SetNotifyValue(true, char)
}

// WriteCommand implements Transport
func (t *SwiftTransport) WriteCommand(data []byte) error {
	p, char := t.current(), t.characteristic(fts.CommandOut)
	if p == nil {
		return ErrNotConnected
	}
	if char == nil {
		return fmt.Errorf("%w: %s", fts.ErrCharacteristicNotFound, fts.CommandOut)
	}
	return p.WriteValue(data, char, swift.CBCharacteristicWriteWithoutResponse)
}

// Disconnect implements Transport. A local disconnect is not reported as link loss.
func (t *SwiftTransport) Disconnect() error {
	t.mu.Lock()
	t.closing = true
	p := t.peripheral
	t.peripheral = nil
	t.mu.Unlock()

	if p != nil {
		t.central.CancelPeripheralConnection(p)
	}
	return nil
}

func (t *SwiftTransport) current() *swift.CBPeripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peripheral
}

func (t *SwiftTransport) characteristic(c fts.Characteristic) *swift.CBCharacteristic {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chars[c]
}

func (t *SwiftTransport) lookup(char *swift.CBCharacteristic) (fts.Characteristic, bool) {
	if char == nil {
		return 0, false
	}
	return fts.CharacteristicFromUUID(char.UUID)
}

func sendErr(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// DidDiscoverPeripheral implements swift.CBCentralManagerDelegate
func (t *SwiftTransport) DidDiscoverPeripheral(central *swift.CBCentralManager, peripheral *swift.CBPeripheral, advertisementData map[string]interface{}, rssi float64) {
}

// DidConnectPeripheral implements swift.CBCentralManagerDelegate
func (t *SwiftTransport) DidConnectPeripheral(central *swift.CBCentralManager, peripheral *swift.CBPeripheral) {
	t.mu.Lock()
	t.connected = true
	connectC := t.connectC
	t.mu.Unlock()
	logger.Debug(t.tag(), "✅ Connected to %s", peripheral.UUID)
	sendErr(connectC, nil)
}

// DidFailToConnectPeripheral implements swift.CBCentralManagerDelegate
func (t *SwiftTransport) DidFailToConnectPeripheral(central *swift.CBCentralManager, peripheral *swift.CBPeripheral, err error) {
	t.mu.Lock()
	connectC := t.connectC
	t.mu.Unlock()
	sendErr(connectC, err)
}

// DidDisconnectPeripheral implements swift.CBCentralManagerDelegate
func (t *SwiftTransport) DidDisconnectPeripheral(central *swift.CBCentralManager, peripheral *swift.CBPeripheral, err error) {
	t.mu.Lock()
	if peripheral != t.peripheral {
		// a link we already gave up on
		t.mu.Unlock()
		return
	}
	wasConnected := t.connected
	closing := t.closing
	t.connected = false
	t.mu.Unlock()

	if wasConnected && !closing {
		logger.Warn(t.tag(), "❌ Link to %s lost: %v", peripheral.UUID, err)
		t.emit(fts.LinkLost{Err: fmt.Errorf("%w: %v", fts.ErrLinkLost, err)})
	}
}

// DidDiscoverServices implements swift.CBPeripheralDelegate
func (t *SwiftTransport) DidDiscoverServices(peripheral *swift.CBPeripheral, err error) {
	t.mu.Lock()
	servicesC := t.servicesC
	t.mu.Unlock()
	sendErr(servicesC, err)
}

// DidDiscoverCharacteristics implements swift.CBPeripheralDelegate
func (t *SwiftTransport) DidDiscoverCharacteristics(peripheral *swift.CBPeripheral, service *swift.CBService, err error) {
	t.mu.Lock()
	charsC := t.charsC
	t.mu.Unlock()
	sendErr(charsC, err)
}

// DidWriteValueForCharacteristic implements swift.CBPeripheralDelegate
func (t *SwiftTransport) DidWriteValueForCharacteristic(peripheral *swift.CBPeripheral, characteristic *swift.CBCharacteristic, err error) {
	if err != nil {
		logger.Warn(t.tag(), "❌ Write to %s failed: %v", characteristic.UUID, err)
	}
}

// DidUpdateNotificationState implements swift.CBPeripheralDelegate
func (t *SwiftTransport) DidUpdateNotificationState(peripheral *swift.CBPeripheral, characteristic *swift.CBCharacteristic, err error) {
	c, ok := t.lookup(characteristic)
	if !ok {
		return
	}
	t.emit(fts.DescriptorWritten{Characteristic: c, Err: err})
}

// DidUpdateValueForCharacteristic implements swift.CBPeripheralDelegate
func (t *SwiftTransport) DidUpdateValueForCharacteristic(peripheral *swift.CBPeripheral, characteristic *swift.CBCharacteristic, err error) {
	c, ok := t.lookup(characteristic)
	if !ok || err != nil {
		return
	}
	value := append([]byte(nil), characteristic.Value...)
	t.emit(fts.NotificationReceived{Characteristic: c, Value: value})
}
