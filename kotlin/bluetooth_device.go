package kotlin

import (
	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
)

// BluetoothDevice matches Android's BluetoothDevice
type BluetoothDevice struct {
	Name    string
	Address string
	wire    *wire.Wire
}

func (d *BluetoothDevice) SetWire(w *wire.Wire) {
	d.wire = w
}

// ConnectGatt starts connecting and returns immediately. The outcome arrives
// through callback.OnConnectionStateChange.
func (d *BluetoothDevice) ConnectGatt(context interface{}, autoConnect bool, callback BluetoothGattCallback) *BluetoothGatt {
	g := &BluetoothGatt{
		device:                   d,
		callback:                 callback,
		notifyingCharacteristics: make(map[string]bool),
	}

	go func() {
		logger.Debug(g.tag(), "🔌 Connecting to GATT on %s", d.Address)
		conn, err := d.wire.Connect(d.Address, g.handlePacket)
		if err != nil {
			logger.Warn(g.tag(), "❌ Connect failed: %v", err)
			callback.OnConnectionStateChange(g, GATT_FAILURE, STATE_DISCONNECTED)
			return
		}

		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()
		callback.OnConnectionStateChange(g, GATT_SUCCESS, STATE_CONNECTED)

		<-conn.Done()
		g.mu.Lock()
		closed := g.closed
		g.services = nil
		g.mu.Unlock()
		if closed {
			return
		}

		status := GATT_SUCCESS
		if conn.Err() != nil {
			status = GATT_CONNECTION_TIMEOUT
		}
		callback.OnConnectionStateChange(g, status, STATE_DISCONNECTED)
	}()

	return g
}
