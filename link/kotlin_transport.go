package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/kotlin"
	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
)

// DefaultMTU is what the Android client requests after connecting
const DefaultMTU = 247

// KotlinTransport drives the recorder through the Android-style GATT API on
// the simulated radio. It is also the BluetoothGattCallback.
type KotlinTransport struct {
	adapter *kotlin.BluetoothAdapter
	id      string
	mtu     int
	events  chan fts.Event
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	gatt      *kotlin.BluetoothGatt
	chars     map[fts.Characteristic]*kotlin.BluetoothGattCharacteristic
	connected bool
	closing   bool
	connectC  chan int
	discoverC chan int
	mtuC      chan int
}

// NewKotlinTransport creates a transport on radio w requesting mtu after connect (0: keep default)
func NewKotlinTransport(w *wire.Wire, mtu int) *KotlinTransport {
	return &KotlinTransport{
		adapter: kotlin.NewBluetoothManager(w).Adapter,
		id:      w.ID(),
		mtu:     mtu,
		events:  make(chan fts.Event, 1024),
		done:    make(chan struct{}),
		chars:   make(map[fts.Characteristic]*kotlin.BluetoothGattCharacteristic),
	}
}

func (t *KotlinTransport) tag() string {
	return logger.Tag(t.id, "Transport")
}

// Events implements Transport
func (t *KotlinTransport) Events() <-chan fts.Event {
	return t.events
}

// Close implements Transport
func (t *KotlinTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// emit hands ev to the reader, or drops it once the transport is closed
func (t *KotlinTransport) emit(ev fts.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
		logger.Debug(t.tag(), "🗑️  Transport closed, dropping %T", ev)
	}
}

// Connect implements Transport
func (t *KotlinTransport) Connect(ctx context.Context, address string) error {
	connectC := make(chan int, 1)
	t.mu.Lock()
	t.connectC = connectC
	t.connected = false
	t.closing = false
	t.chars = make(map[fts.Characteristic]*kotlin.BluetoothGattCharacteristic)
	t.mu.Unlock()

	g := t.adapter.GetRemoteDevice(address).ConnectGatt(nil, false, t)

	select {
	case status := <-connectC:
		if status != kotlin.GATT_SUCCESS {
			return fmt.Errorf("gatt connect failed with status %d", status)
		}
	case <-ctx.Done():
		g.Close()
		return ctx.Err()
	}

	t.mu.Lock()
	t.gatt = g
	t.mu.Unlock()

	if t.mtu > 0 {
		mtuC := make(chan int, 1)
		t.mu.Lock()
		t.mtuC = mtuC
		t.mu.Unlock()

		if g.RequestMtu(t.mtu) {
			select {
			case status := <-mtuC:
				if status != kotlin.GATT_SUCCESS {
					logger.Warn(t.tag(), "⚠️  MTU request failed with status %d, keeping default", status)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// DiscoverServices implements Transport
func (t *KotlinTransport) DiscoverServices(ctx context.Context) (fts.Surface, error) {
	g := t.current()
	if g == nil {
		return fts.Surface{}, ErrNotConnected
	}

	discoverC := make(chan int, 1)
	t.mu.Lock()
	t.discoverC = discoverC
	t.mu.Unlock()

	if !g.DiscoverServices() {
		return fts.Surface{}, errors.New("service discovery not started")
	}
	select {
	case status := <-discoverC:
		if status != kotlin.GATT_SUCCESS {
			return fts.Surface{}, fmt.Errorf("service discovery failed with status %d", status)
		}
	case <-ctx.Done():
		return fts.Surface{}, ctx.Err()
	}

	services := make(map[string][]string)
	for _, s := range g.GetServices() {
		for _, c := range s.Characteristics {
			services[s.UUID] = append(services[s.UUID], c.UUID)
		}
		if _, ok := services[s.UUID]; !ok {
			services[s.UUID] = nil
		}
	}

	if svc := g.GetService(fts.ServiceUUID.String()); svc != nil {
		t.mu.Lock()
		for _, c := range svc.Characteristics {
			if id, ok := fts.CharacteristicFromUUID(c.UUID); ok {
				t.chars[id] = c
			}
		}
		t.mu.Unlock()
	}
	return fts.SurfaceFromServices(services), nil
}

// EnableNotification implements Transport
func (t *KotlinTransport) EnableNotification(c fts.Characteristic) error {
	g, char := t.current(), t.characteristic(c)
	if g == nil {
		return ErrNotConnected
	}
	if char == nil {
		return fmt.Errorf("%w: %s", fts.ErrCharacteristicNotFound, c)
	}

	if !g.SetCharacteristicNotification(char, true) {
		return fmt.Errorf("%s does not support notifications", c)
	}
	descriptor := char.GetDescriptor(kotlin.CLIENT_CHARACTERISTIC_CONFIG)
	if descriptor == nil {
		return fmt.Errorf("%s has no CCCD", c)
	}
	descriptor.Value = kotlin.ENABLE_NOTIFICATION_VALUE
	if !g.WriteDescriptor(descriptor) {
		return fmt.Errorf("descriptor write on %s not started", c)
	}
	return nil
}

// WriteCommand implements Transport
func (t *KotlinTransport) WriteCommand(data []byte) error {
	g, char := t.current(), t.characteristic(fts.CommandOut)
	if g == nil {
		return ErrNotConnected
	}
	if char == nil {
		return fmt.Errorf("%w: %s", fts.ErrCharacteristicNotFound, fts.CommandOut)
	}

	char.WriteType = kotlin.WRITE_TYPE_NO_RESPONSE
	char.Value = data
	if !g.WriteCharacteristic(char) {
		return errors.New("command write rejected")
	}
	return nil
}

// Disconnect implements Transport. A local disconnect is not reported as
// link loss; the manager already knows.
func (t *KotlinTransport) Disconnect() error {
	t.mu.Lock()
	t.closing = true
	g := t.gatt
	t.gatt = nil
	t.mu.Unlock()

	if g != nil {
		g.Close()
	}
	return nil
}

func (t *KotlinTransport) current() *kotlin.BluetoothGatt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gatt
}

func (t *KotlinTransport) characteristic(c fts.Characteristic) *kotlin.BluetoothGattCharacteristic {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chars[c]
}

func signal(ch chan int, v int) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

// OnConnectionStateChange implements kotlin.BluetoothGattCallback
func (t *KotlinTransport) OnConnectionStateChange(g *kotlin.BluetoothGatt, status int, newState int) {
	t.mu.Lock()
	wasConnected := t.connected
	closing := t.closing
	connectC := t.connectC
	t.connected = newState == kotlin.STATE_CONNECTED
	t.mu.Unlock()

	switch {
	case newState == kotlin.STATE_CONNECTED:
		logger.Debug(t.tag(), "✅ GATT connected to %s", g.GetDevice().Address)
		signal(connectC, status)
	case !wasConnected:
		signal(connectC, status)
	case !closing:
		logger.Warn(t.tag(), "❌ Link to %s lost (status %d)", g.GetDevice().Address, status)
		t.emit(fts.LinkLost{Err: fmt.Errorf("%w: gatt status %d", fts.ErrLinkLost, status)})
	}
}

// OnServicesDiscovered implements kotlin.BluetoothGattCallback
func (t *KotlinTransport) OnServicesDiscovered(g *kotlin.BluetoothGatt, status int) {
	t.mu.Lock()
	discoverC := t.discoverC
	t.mu.Unlock()
	signal(discoverC, status)
}

// OnMtuChanged implements kotlin.BluetoothGattCallback
func (t *KotlinTransport) OnMtuChanged(g *kotlin.BluetoothGatt, mtu int, status int) {
	logger.Debug(t.tag(), "📏 MTU %d (status %d)", mtu, status)
	t.mu.Lock()
	mtuC := t.mtuC
	t.mu.Unlock()
	signal(mtuC, status)
}

// OnDescriptorWrite implements kotlin.BluetoothGattCallback
func (t *KotlinTransport) OnDescriptorWrite(g *kotlin.BluetoothGatt, descriptor *kotlin.BluetoothGattDescriptor, status int) {
	c, ok := fts.CharacteristicFromUUID(descriptor.Characteristic.UUID)
	if !ok {
		return
	}
	var err error
	if status != kotlin.GATT_SUCCESS {
		err = fmt.Errorf("descriptor write on %s failed with status %d", c, status)
	}
	t.emit(fts.DescriptorWritten{Characteristic: c, Err: err})
}

// OnCharacteristicChanged implements kotlin.BluetoothGattCallback
func (t *KotlinTransport) OnCharacteristicChanged(g *kotlin.BluetoothGatt, characteristic *kotlin.BluetoothGattCharacteristic, value []byte) {
	c, ok := fts.CharacteristicFromUUID(characteristic.UUID)
	if !ok {
		return
	}
	t.emit(fts.NotificationReceived{Characteristic: c, Value: append([]byte(nil), value...)})
}

// OnCharacteristicWrite implements kotlin.BluetoothGattCallback. Command
// writes are without response, so failures surface from WriteCommand.
func (t *KotlinTransport) OnCharacteristicWrite(g *kotlin.BluetoothGatt, characteristic *kotlin.BluetoothGattCharacteristic, status int) {
	if status != kotlin.GATT_SUCCESS {
		logger.Warn(t.tag(), "⚠️  Write to %s reported status %d", characteristic.UUID, status)
	}
}
