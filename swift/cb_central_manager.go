package swift

import (
	"context"
	"sync"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
)

// iosMTU is what iOS proposes right after connecting
const iosMTU = 185

// CBCentralManagerDelegate matches the parts of iOS CBCentralManagerDelegate used here
type CBCentralManagerDelegate interface {
	DidDiscoverPeripheral(central *CBCentralManager, peripheral *CBPeripheral, advertisementData map[string]interface{}, rssi float64)
	DidConnectPeripheral(central *CBCentralManager, peripheral *CBPeripheral)
	DidFailToConnectPeripheral(central *CBCentralManager, peripheral *CBPeripheral, err error)
	DidDisconnectPeripheral(central *CBCentralManager, peripheral *CBPeripheral, err error)
}

// CBCentralManager matches iOS CBCentralManager on the simulated radio
type CBCentralManager struct {
	Delegate CBCentralManagerDelegate
	State    CBManagerState
	wire     *wire.Wire

	mu        sync.Mutex
	cancelled map[*CBPeripheral]bool
}

// NewCBCentralManager creates a central on radio w, which must be started
func NewCBCentralManager(delegate CBCentralManagerDelegate, w *wire.Wire) *CBCentralManager {
	return &CBCentralManager{
		Delegate:  delegate,
		State:     CBManagerStatePoweredOn,
		wire:      w,
		cancelled: make(map[*CBPeripheral]bool),
	}
}

func (c *CBCentralManager) tag() string {
	return logger.Tag(c.wire.ID(), "iOS")
}

// ScanForPeripherals sweeps advertising peers once and reports those
// advertising any of withServices (all when empty)
func (c *CBCentralManager) ScanForPeripherals(withServices []string, options map[string]interface{}) error {
	peers, err := wire.Scan()
	if err != nil {
		return err
	}

	for _, peer := range peers {
		if peer.ID == c.wire.ID() {
			continue
		}
		adv := peer.Advertising
		if len(withServices) > 0 && !advertisesAny(adv.ServiceUUIDs, withServices) {
			continue
		}

		advertisementData := map[string]interface{}{
			"kCBAdvDataIsConnectable": true,
		}
		if adv.Name != "" {
			advertisementData["kCBAdvDataLocalName"] = adv.Name
		}
		if len(adv.ServiceUUIDs) > 0 {
			advertisementData["kCBAdvDataServiceUUIDs"] = adv.ServiceUUIDs
		}

		name := adv.Name
		if name == "" {
			name = "Unknown Device"
		}
		logger.Debug(c.tag(), "📡 Discovered %s (%s)", name, peer.ID)
		c.Delegate.DidDiscoverPeripheral(c, c.RetrievePeripheral(peer.ID, name), advertisementData, -60)
	}
	return nil
}

// StopScan exists for API parity; a scan is a single sweep
func (c *CBCentralManager) StopScan() {}

// RetrievePeripheral returns a peripheral object for a known device id
func (c *CBCentralManager) RetrievePeripheral(id, name string) *CBPeripheral {
	return &CBPeripheral{UUID: id, Name: name, wire: c.wire}
}

// Connect starts connecting; the outcome arrives through DidConnectPeripheral
// or DidFailToConnectPeripheral. A later link loss arrives through
// DidDisconnectPeripheral with a non-nil error.
func (c *CBCentralManager) Connect(peripheral *CBPeripheral, options map[string]interface{}) {
	c.mu.Lock()
	delete(c.cancelled, peripheral)
	c.mu.Unlock()
	peripheral.setState(CBPeripheralStateConnecting)

	go func() {
		conn, err := c.wire.Connect(peripheral.UUID, peripheral.handlePacket)
		if err != nil {
			peripheral.setState(CBPeripheralStateDisconnected)
			logger.Warn(c.tag(), "❌ Connect to %s failed: %v", peripheral.UUID, err)
			c.Delegate.DidFailToConnectPeripheral(c, peripheral, CBErrorConnectionFailed)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		if mtu, err := conn.ExchangeMTU(ctx, iosMTU); err != nil {
			logger.Warn(c.tag(), "⚠️  MTU exchange failed: %v", err)
		} else {
			logger.Debug(c.tag(), "📏 MTU %d", mtu)
		}
		cancel()

		peripheral.attach(conn)
		c.Delegate.DidConnectPeripheral(c, peripheral)

		<-conn.Done()
		peripheral.detach()

		c.mu.Lock()
		cancelled := c.cancelled[peripheral]
		delete(c.cancelled, peripheral)
		c.mu.Unlock()

		var reason error
		if !cancelled {
			reason = CBErrorPeripheralDisconnected
		}
		c.Delegate.DidDisconnectPeripheral(c, peripheral, reason)
	}()
}

// CancelPeripheralConnection drops the link. DidDisconnectPeripheral follows with a nil error.
func (c *CBCentralManager) CancelPeripheralConnection(peripheral *CBPeripheral) {
	peripheral.mu.RLock()
	conn := peripheral.conn
	peripheral.mu.RUnlock()
	if conn == nil {
		return
	}

	c.mu.Lock()
	c.cancelled[peripheral] = true
	c.mu.Unlock()
	peripheral.setState(CBPeripheralStateDisconnecting)
	conn.Close()
}

func advertisesAny(advertised, wanted []string) bool {
	for _, w := range wanted {
		if containsUUID(advertised, w) {
			return true
		}
	}
	return false
}
