package kotlin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
	"github.com/user/dictofun-sync/wire/att"
)

// operationTimeout bounds one GATT request/response round trip
const operationTimeout = 5 * time.Second

// BluetoothGattCallback matches Android's BluetoothGattCallback
type BluetoothGattCallback interface {
	OnConnectionStateChange(gatt *BluetoothGatt, status int, newState int)
	OnServicesDiscovered(gatt *BluetoothGatt, status int)
	OnCharacteristicWrite(gatt *BluetoothGatt, characteristic *BluetoothGattCharacteristic, status int)
	OnCharacteristicChanged(gatt *BluetoothGatt, characteristic *BluetoothGattCharacteristic, value []byte)
	OnDescriptorWrite(gatt *BluetoothGatt, descriptor *BluetoothGattDescriptor, status int)
	OnMtuChanged(gatt *BluetoothGatt, mtu int, status int)
}

// BluetoothGatt matches Android's BluetoothGatt. Like Android, only one
// request (descriptor write, acknowledged write, MTU request) may be
// outstanding; a second one returns false.
type BluetoothGatt struct {
	device   *BluetoothDevice
	callback BluetoothGattCallback

	mu                       sync.RWMutex
	conn                     *wire.Conn
	services                 []*BluetoothGattService
	notifyingCharacteristics map[string]bool
	busy                     bool
	closed                   bool
}

func (g *BluetoothGatt) tag() string {
	return logger.Tag(g.device.Address, "Android")
}

// GetDevice returns the remote device
func (g *BluetoothGatt) GetDevice() *BluetoothDevice {
	return g.device
}

func (g *BluetoothGatt) connection() *wire.Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn
}

// beginOp reserves the single request slot
func (g *BluetoothGatt) beginOp() (*wire.Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil || g.busy || g.closed {
		return nil, false
	}
	g.busy = true
	return g.conn, true
}

func (g *BluetoothGatt) endOp() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

func statusOf(err error) int {
	if err == nil {
		return GATT_SUCCESS
	}
	var attErr *att.Error
	if errors.As(err, &attErr) && attErr.Code == att.ErrWriteNotPermitted {
		return GATT_WRITE_NOT_PERMITTED
	}
	return GATT_FAILURE
}

// DiscoverServices reads the peer's attribute table; results arrive through
// OnServicesDiscovered
func (g *BluetoothGatt) DiscoverServices() bool {
	conn, ok := g.beginOp()
	if !ok {
		return false
	}

	go func() {
		table, err := g.device.wire.ReadTable(conn.Peer())
		status := statusOf(err)
		if err == nil {
			services := servicesFromTable(table)
			g.mu.Lock()
			g.services = services
			g.mu.Unlock()
			logger.Debug(g.tag(), "🔍 Discovered %d services", len(services))
		} else {
			logger.Warn(g.tag(), "❌ Service discovery failed: %v", err)
		}
		g.endOp()
		g.callback.OnServicesDiscovered(g, status)
	}()
	return true
}

// GetServices returns the discovered services
func (g *BluetoothGatt) GetServices() []*BluetoothGattService {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.services
}

// GetService returns the discovered service with uuid, or nil
func (g *BluetoothGatt) GetService(uuid string) *BluetoothGattService {
	for _, s := range g.GetServices() {
		if strings.EqualFold(s.UUID, uuid) {
			return s
		}
	}
	return nil
}

// SetCharacteristicNotification enables local delivery of notifications for
// characteristic. The peer only sends them after its CCCD is written.
func (g *BluetoothGatt) SetCharacteristicNotification(characteristic *BluetoothGattCharacteristic, enable bool) bool {
	if characteristic == nil || characteristic.Properties&PROPERTY_NOTIFY == 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifyingCharacteristics[strings.ToLower(characteristic.UUID)] = enable
	return true
}

// WriteDescriptor writes descriptor.Value; the result arrives through OnDescriptorWrite
func (g *BluetoothGatt) WriteDescriptor(descriptor *BluetoothGattDescriptor) bool {
	if descriptor == nil {
		return false
	}
	conn, ok := g.beginOp()
	if !ok {
		return false
	}

	value := append([]byte(nil), descriptor.Value...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		err := conn.WriteRequest(ctx, descriptor.handle, value)
		if err != nil {
			logger.Warn(g.tag(), "❌ Descriptor write on %s failed: %v", descriptor.Characteristic.UUID, err)
		}
		g.endOp()
		g.callback.OnDescriptorWrite(g, descriptor, statusOf(err))
	}()
	return true
}

// WriteCharacteristic writes characteristic.Value. Writes without response go
// out immediately; acknowledged writes take the request slot. The result
// arrives through OnCharacteristicWrite.
func (g *BluetoothGatt) WriteCharacteristic(characteristic *BluetoothGattCharacteristic) bool {
	if characteristic == nil {
		return false
	}
	value := append([]byte(nil), characteristic.Value...)

	if characteristic.WriteType == WRITE_TYPE_NO_RESPONSE {
		conn := g.connection()
		if conn == nil {
			return false
		}
		if err := conn.WriteCommand(characteristic.handle, value); err != nil {
			logger.Warn(g.tag(), "❌ Write without response failed: %v", err)
			return false
		}
		go g.callback.OnCharacteristicWrite(g, characteristic, GATT_SUCCESS)
		return true
	}

	conn, ok := g.beginOp()
	if !ok {
		return false
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		err := conn.WriteRequest(ctx, characteristic.handle, value)
		g.endOp()
		g.callback.OnCharacteristicWrite(g, characteristic, statusOf(err))
	}()
	return true
}

// RequestMtu negotiates the MTU; the result arrives through OnMtuChanged
func (g *BluetoothGatt) RequestMtu(mtu int) bool {
	conn, ok := g.beginOp()
	if !ok {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		agreed, err := conn.ExchangeMTU(ctx, mtu)
		g.endOp()
		g.callback.OnMtuChanged(g, agreed, statusOf(err))
	}()
	return true
}

// Disconnect drops the link; OnConnectionStateChange reports STATE_DISCONNECTED
func (g *BluetoothGatt) Disconnect() {
	if conn := g.connection(); conn != nil {
		conn.Close()
	}
}

// Close releases the connection without any further callbacks
func (g *BluetoothGatt) Close() {
	g.mu.Lock()
	g.closed = true
	conn := g.conn
	g.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// handlePacket runs on the wire read goroutine
func (g *BluetoothGatt) handlePacket(c *wire.Conn, packet interface{}) {
	n, ok := packet.(*att.HandleValueNotification)
	if !ok {
		return
	}

	characteristic := g.characteristicByHandle(n.Handle)
	if characteristic == nil {
		logger.Trace(g.tag(), "⚠️  Notification on unknown handle 0x%04X", n.Handle)
		return
	}

	g.mu.RLock()
	notifying := g.notifyingCharacteristics[strings.ToLower(characteristic.UUID)]
	closed := g.closed
	g.mu.RUnlock()
	if !notifying || closed {
		return
	}

	g.callback.OnCharacteristicChanged(g, characteristic, n.Value)
}

func (g *BluetoothGatt) characteristicByHandle(handle uint16) *BluetoothGattCharacteristic {
	for _, s := range g.GetServices() {
		for _, c := range s.Characteristics {
			if c.handle == handle {
				return c
			}
		}
	}
	return nil
}
