package swift

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
	"github.com/user/dictofun-sync/wire/att"
	"github.com/user/dictofun-sync/wire/gatt"
)

// CBCharacteristicWriteType matches iOS CoreBluetooth write types
type CBCharacteristicWriteType int

const (
	CBCharacteristicWriteWithResponse    CBCharacteristicWriteType = 0 // Wait for ACK (default)
	CBCharacteristicWriteWithoutResponse CBCharacteristicWriteType = 1 // Fire and forget
)

// CBUUID_CCCD is the Client Characteristic Configuration Descriptor
const CBUUID_CCCD = gatt.CCCDUUID

// operationTimeout bounds one queued request/response round trip
const operationTimeout = 5 * time.Second

// CBDescriptor matches iOS CoreBluetooth CBDescriptor
type CBDescriptor struct {
	UUID           string
	Value          []byte
	Characteristic *CBCharacteristic

	handle uint16
}

// CBCharacteristic matches iOS CoreBluetooth CBCharacteristic
type CBCharacteristic struct {
	UUID        string
	Properties  []string // "read", "write", "write_without_response", "notify"
	Service     *CBService
	Value       []byte
	Descriptors []*CBDescriptor
	IsNotifying bool

	handle uint16
}

// HasProperty matches characteristic.properties.contains(...)
func (c *CBCharacteristic) HasProperty(property string) bool {
	for _, prop := range c.Properties {
		if prop == property {
			return true
		}
	}
	return false
}

func (c *CBCharacteristic) IsNotifiable() bool {
	return c.HasProperty(gatt.PropNotify)
}

func (c *CBCharacteristic) IsWritableWithoutResponse() bool {
	return c.HasProperty(gatt.PropWriteWithoutResponse)
}

func (c *CBCharacteristic) cccd() *CBDescriptor {
	for _, d := range c.Descriptors {
		if strings.EqualFold(d.UUID, CBUUID_CCCD) {
			return d
		}
	}
	return nil
}

// CBService matches iOS CoreBluetooth CBService
type CBService struct {
	UUID            string
	IsPrimary       bool
	Characteristics []*CBCharacteristic
}

// CBPeripheralDelegate matches the parts of CBPeripheralDelegate a file
// transfer client needs
type CBPeripheralDelegate interface {
	DidDiscoverServices(peripheral *CBPeripheral, err error)
	DidDiscoverCharacteristics(peripheral *CBPeripheral, service *CBService, err error)
	DidWriteValueForCharacteristic(peripheral *CBPeripheral, characteristic *CBCharacteristic, err error)
	DidUpdateNotificationState(peripheral *CBPeripheral, characteristic *CBCharacteristic, err error)
	DidUpdateValueForCharacteristic(peripheral *CBPeripheral, characteristic *CBCharacteristic, err error)
}

// CBPeripheral matches iOS CoreBluetooth CBPeripheral. Like CoreBluetooth,
// requests are queued and run one at a time; they never fail for being busy.
type CBPeripheral struct {
	Delegate CBPeripheralDelegate
	Name     string
	UUID     string

	mu       sync.RWMutex
	state    CBPeripheralState
	services []*CBService
	conn     *wire.Conn
	wire     *wire.Wire
	queue    chan func(*wire.Conn)
}

func (p *CBPeripheral) tag() string {
	return logger.Tag(p.UUID, "iOS")
}

// State returns the connection state
func (p *CBPeripheral) State() CBPeripheralState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *CBPeripheral) setState(s CBPeripheralState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Services returns what the last DiscoverServices found
func (p *CBPeripheral) Services() []*CBService {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.services
}

// attach binds an established link and starts the request queue
func (p *CBPeripheral) attach(conn *wire.Conn) {
	queue := make(chan func(*wire.Conn), 64)
	p.mu.Lock()
	p.conn = conn
	p.queue = queue
	p.state = CBPeripheralStateConnected
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-conn.Done():
				return
			case op := <-queue:
				op(conn)
			}
		}
	}()
}

// detach forgets the link once it is gone
func (p *CBPeripheral) detach() {
	p.mu.Lock()
	p.conn = nil
	p.queue = nil
	p.services = nil
	p.state = CBPeripheralStateDisconnected
	p.mu.Unlock()
}

func (p *CBPeripheral) enqueue(op func(*wire.Conn)) error {
	p.mu.RLock()
	queue := p.queue
	p.mu.RUnlock()
	if queue == nil {
		return CBErrorNotConnected
	}
	select {
	case queue <- op:
		return nil
	default:
		return fmt.Errorf("request queue full")
	}
}

// DiscoverServices reads the peer's services, keeping those in serviceUUIDs
// (all when empty). The result arrives through DidDiscoverServices.
func (p *CBPeripheral) DiscoverServices(serviceUUIDs []string) {
	err := p.enqueue(func(conn *wire.Conn) {
		table, err := p.wire.ReadTable(conn.Peer())
		if err != nil {
			p.Delegate.DidDiscoverServices(p, toCBError(err))
			return
		}
		services := servicesFromTable(table, serviceUUIDs)
		p.mu.Lock()
		p.services = services
		p.mu.Unlock()
		logger.Debug(p.tag(), "🔍 Discovered %d services", len(services))
		p.Delegate.DidDiscoverServices(p, nil)
	})
	if err != nil {
		go p.Delegate.DidDiscoverServices(p, err)
	}
}

// DiscoverCharacteristics reports the characteristics of service. They are
// already known from service discovery, so only the filter is applied.
func (p *CBPeripheral) DiscoverCharacteristics(characteristicUUIDs []string, service *CBService) {
	err := p.enqueue(func(conn *wire.Conn) {
		if len(characteristicUUIDs) > 0 {
			var kept []*CBCharacteristic
			for _, c := range service.Characteristics {
				if containsUUID(characteristicUUIDs, c.UUID) {
					kept = append(kept, c)
				}
			}
			service.Characteristics = kept
		}
		p.Delegate.DidDiscoverCharacteristics(p, service, nil)
	})
	if err != nil {
		go p.Delegate.DidDiscoverCharacteristics(p, service, err)
	}
}

// SetNotifyValue writes the CCCD of characteristic. The outcome arrives
// through DidUpdateNotificationState.
func (p *CBPeripheral) SetNotifyValue(enabled bool, characteristic *CBCharacteristic) error {
	if characteristic == nil || !characteristic.IsNotifiable() {
		return CBErrorOperationNotSupported
	}
	descriptor := characteristic.cccd()
	if descriptor == nil {
		return fmt.Errorf("characteristic %s has no CCCD descriptor", characteristic.UUID)
	}

	value := gatt.EncodeCCCDValue(enabled, false)
	return p.enqueue(func(conn *wire.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		err := conn.WriteRequest(ctx, descriptor.handle, value)
		if err == nil {
			p.mu.Lock()
			characteristic.IsNotifying = enabled
			p.mu.Unlock()
		} else {
			logger.Warn(p.tag(), "❌ CCCD write on %s failed: %v", characteristic.UUID, err)
		}
		p.Delegate.DidUpdateNotificationState(p, characteristic, toCBError(err))
	})
}

// WriteValue writes data to characteristic. Writes without response go out
// immediately and get no callback; acknowledged writes are queued and
// answered through DidWriteValueForCharacteristic.
func (p *CBPeripheral) WriteValue(data []byte, characteristic *CBCharacteristic, writeType CBCharacteristicWriteType) error {
	if characteristic == nil {
		return fmt.Errorf("invalid characteristic")
	}
	value := append([]byte(nil), data...)

	if writeType == CBCharacteristicWriteWithoutResponse {
		if !characteristic.IsWritableWithoutResponse() {
			return CBErrorOperationNotSupported
		}
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			return CBErrorNotConnected
		}
		return conn.WriteCommand(characteristic.handle, value)
	}

	return p.enqueue(func(conn *wire.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		err := conn.WriteRequest(ctx, characteristic.handle, value)
		p.Delegate.DidWriteValueForCharacteristic(p, characteristic, toCBError(err))
	})
}

// MaximumWriteValueLength is MTU - 3 (ATT opcode plus handle)
func (p *CBPeripheral) MaximumWriteValueLength(writeType CBCharacteristicWriteType) int {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	mtu := att.DefaultMTU
	if conn != nil {
		mtu = conn.MTU()
	}
	return mtu - att.NotificationOverhead
}

// GetCharacteristic finds a characteristic by service and characteristic UUID
func (p *CBPeripheral) GetCharacteristic(serviceUUID, charUUID string) *CBCharacteristic {
	for _, service := range p.Services() {
		if !strings.EqualFold(service.UUID, serviceUUID) {
			continue
		}
		for _, c := range service.Characteristics {
			if strings.EqualFold(c.UUID, charUUID) {
				return c
			}
		}
	}
	return nil
}

// handlePacket runs on the wire read goroutine
func (p *CBPeripheral) handlePacket(c *wire.Conn, packet interface{}) {
	n, ok := packet.(*att.HandleValueNotification)
	if !ok {
		return
	}

	var target *CBCharacteristic
	for _, s := range p.Services() {
		for _, ch := range s.Characteristics {
			if ch.handle == n.Handle {
				target = ch
			}
		}
	}
	if target == nil {
		logger.Trace(p.tag(), "⚠️  Notification on unknown handle 0x%04X", n.Handle)
		return
	}

	p.mu.Lock()
	notifying := target.IsNotifying
	if notifying {
		target.Value = n.Value
	}
	p.mu.Unlock()
	if notifying {
		p.Delegate.DidUpdateValueForCharacteristic(p, target, nil)
	}
}

func servicesFromTable(table *gatt.Table, filter []string) []*CBService {
	var services []*CBService
	for _, s := range table.Services {
		if len(filter) > 0 && !containsUUID(filter, s.UUID) {
			continue
		}
		svc := &CBService{UUID: s.UUID, IsPrimary: true}
		for _, c := range s.Characteristics {
			char := &CBCharacteristic{
				UUID:       c.UUID,
				Properties: append([]string(nil), c.Properties...),
				Service:    svc,
				handle:     c.ValueHandle,
			}
			if c.CCCDHandle != 0 {
				char.Descriptors = append(char.Descriptors, &CBDescriptor{
					UUID:           CBUUID_CCCD,
					Characteristic: char,
					handle:         c.CCCDHandle,
				})
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		services = append(services, svc)
	}
	return services
}

func containsUUID(list []string, u string) bool {
	for _, s := range list {
		if strings.EqualFold(s, u) {
			return true
		}
	}
	return false
}
