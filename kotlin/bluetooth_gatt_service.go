package kotlin

import (
	"strings"

	"github.com/user/dictofun-sync/wire/gatt"
)

// BluetoothGattService matches Android's BluetoothGattService
type BluetoothGattService struct {
	UUID            string
	Type            int
	Characteristics []*BluetoothGattCharacteristic
}

// GetCharacteristic returns the characteristic with uuid, or nil
func (s *BluetoothGattService) GetCharacteristic(uuid string) *BluetoothGattCharacteristic {
	for _, c := range s.Characteristics {
		if strings.EqualFold(c.UUID, uuid) {
			return c
		}
	}
	return nil
}

// BluetoothGattCharacteristic matches Android's BluetoothGattCharacteristic
type BluetoothGattCharacteristic struct {
	UUID        string
	Properties  int
	WriteType   int
	Value       []byte
	Service     *BluetoothGattService
	Descriptors []*BluetoothGattDescriptor

	handle uint16
}

// GetDescriptor returns the descriptor with uuid, or nil
func (c *BluetoothGattCharacteristic) GetDescriptor(uuid string) *BluetoothGattDescriptor {
	for _, d := range c.Descriptors {
		if strings.EqualFold(d.UUID, uuid) {
			return d
		}
	}
	return nil
}

// BluetoothGattDescriptor matches Android's BluetoothGattDescriptor
type BluetoothGattDescriptor struct {
	UUID           string
	Value          []byte
	Characteristic *BluetoothGattCharacteristic

	handle uint16
}

// servicesFromTable turns a discovered attribute table into Android objects
func servicesFromTable(table *gatt.Table) []*BluetoothGattService {
	services := make([]*BluetoothGattService, 0, len(table.Services))
	for _, s := range table.Services {
		svc := &BluetoothGattService{UUID: s.UUID, Type: SERVICE_TYPE_PRIMARY}
		for _, c := range s.Characteristics {
			char := &BluetoothGattCharacteristic{
				UUID:       c.UUID,
				Properties: propertiesFromStrings(c.Properties),
				WriteType:  WRITE_TYPE_DEFAULT,
				Service:    svc,
				handle:     c.ValueHandle,
			}
			if c.CCCDHandle != 0 {
				char.Descriptors = append(char.Descriptors, &BluetoothGattDescriptor{
					UUID:           CLIENT_CHARACTERISTIC_CONFIG,
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

func propertiesFromStrings(props []string) int {
	var p int
	for _, s := range props {
		switch s {
		case gatt.PropRead:
			p |= PROPERTY_READ
		case gatt.PropWrite:
			p |= PROPERTY_WRITE
		case gatt.PropWriteWithoutResponse:
			p |= PROPERTY_WRITE_NO_RESPONSE
		case gatt.PropNotify:
			p |= PROPERTY_NOTIFY
		}
	}
	return p
}
