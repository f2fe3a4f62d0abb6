package kotlin

import (
	"strings"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire"
)

// BluetoothManager matches Android's BluetoothManager
type BluetoothManager struct {
	Adapter *BluetoothAdapter
}

func NewBluetoothManager(w *wire.Wire) *BluetoothManager {
	return &BluetoothManager{
		Adapter: &BluetoothAdapter{wire: w, scanner: &BluetoothLeScanner{wire: w}},
	}
}

// BluetoothAdapter matches Android's BluetoothAdapter
type BluetoothAdapter struct {
	wire    *wire.Wire
	scanner *BluetoothLeScanner
}

// GetRemoteDevice returns a device handle for address without connecting
func (a *BluetoothAdapter) GetRemoteDevice(address string) *BluetoothDevice {
	return &BluetoothDevice{Address: address, wire: a.wire}
}

func (a *BluetoothAdapter) GetBluetoothLeScanner() *BluetoothLeScanner {
	return a.scanner
}

// ScanCallback matches Android's ScanCallback
type ScanCallback interface {
	OnScanResult(callbackType int, result *ScanResult)
}

// CALLBACK_TYPE_ALL_MATCHES is the only callback type the scanner reports
const CALLBACK_TYPE_ALL_MATCHES = 1

// ScanResult matches Android's ScanResult
type ScanResult struct {
	Device       *BluetoothDevice
	Rssi         int
	ServiceUUIDs []string
}

// ScanFilter matches Android's ScanFilter on device name and service UUID
type ScanFilter struct {
	DeviceNamePrefix string
	ServiceUUID      string
}

func (f ScanFilter) matches(adv wire.Advertisement) bool {
	if f.DeviceNamePrefix != "" && !strings.HasPrefix(adv.Name, f.DeviceNamePrefix) {
		return false
	}
	if f.ServiceUUID == "" {
		return true
	}
	for _, u := range adv.ServiceUUIDs {
		if strings.EqualFold(u, f.ServiceUUID) {
			return true
		}
	}
	return false
}

// BluetoothLeScanner matches Android's BluetoothLeScanner
type BluetoothLeScanner struct {
	wire *wire.Wire
}

// StartScan performs one sweep of advertising peers and reports each match.
// A peer matching any filter is reported; no filters matches everything.
func (s *BluetoothLeScanner) StartScan(filters []ScanFilter, callback ScanCallback) error {
	peers, err := wire.Scan()
	if err != nil {
		return err
	}

	for _, p := range peers {
		if p.ID == s.wire.ID() || !matchesAny(filters, p.Advertising) {
			continue
		}
		logger.Debug(logger.Tag(s.wire.ID(), "Android"), "📡 Found %s (%s)", p.Advertising.Name, p.ID)
		callback.OnScanResult(CALLBACK_TYPE_ALL_MATCHES, &ScanResult{
			Device:       &BluetoothDevice{Name: p.Advertising.Name, Address: p.ID, wire: s.wire},
			Rssi:         -60,
			ServiceUUIDs: p.Advertising.ServiceUUIDs,
		})
	}
	return nil
}

func matchesAny(filters []ScanFilter, adv wire.Advertisement) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.matches(adv) {
			return true
		}
	}
	return false
}
