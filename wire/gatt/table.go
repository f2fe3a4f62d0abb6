package gatt

import (
	"strings"

	"github.com/google/uuid"
)

// Characteristic properties as published in gatt.json
const (
	PropRead                 = "read"
	PropWrite                = "write"
	PropWriteWithoutResponse = "write_without_response"
	PropNotify               = "notify"
)

// CCCDUUID is the Client Characteristic Configuration Descriptor type
const CCCDUUID = "00002902-0000-1000-8000-00805f9b34fb"

// Characteristic is one entry of a published attribute table
type Characteristic struct {
	UUID        string   `json:"uuid"`
	Properties  []string `json:"properties"`
	DeclHandle  uint16   `json:"decl_handle"`
	ValueHandle uint16   `json:"value_handle"`
	CCCDHandle  uint16   `json:"cccd_handle,omitempty"`
}

// HasProperty reports whether the characteristic advertises prop
func (c *Characteristic) HasProperty(prop string) bool {
	for _, p := range c.Properties {
		if p == prop {
			return true
		}
	}
	return false
}

// Service groups characteristics under one handle range
type Service struct {
	UUID            string           `json:"uuid"`
	StartHandle     uint16           `json:"start_handle"`
	EndHandle       uint16           `json:"end_handle"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Table is a device's complete attribute database
type Table struct {
	Services []Service `json:"services"`
}

// FindCharacteristic looks a characteristic up by UUID (any case)
func (t *Table) FindCharacteristic(charUUID string) (*Characteristic, bool) {
	want, err := uuid.Parse(strings.TrimSpace(charUUID))
	if err != nil {
		return nil, false
	}
	for i := range t.Services {
		for j := range t.Services[i].Characteristics {
			c := &t.Services[i].Characteristics[j]
			if id, err := uuid.Parse(c.UUID); err == nil && id == want {
				return c, true
			}
		}
	}
	return nil, false
}

// ByValueHandle returns the characteristic whose value lives at handle
func (t *Table) ByValueHandle(handle uint16) (*Characteristic, bool) {
	return t.find(func(c *Characteristic) bool { return c.ValueHandle == handle })
}

// ByCCCDHandle returns the characteristic whose CCCD lives at handle
func (t *Table) ByCCCDHandle(handle uint16) (*Characteristic, bool) {
	if handle == 0 {
		return nil, false
	}
	return t.find(func(c *Characteristic) bool { return c.CCCDHandle == handle })
}

func (t *Table) find(match func(*Characteristic) bool) (*Characteristic, bool) {
	for i := range t.Services {
		for j := range t.Services[i].Characteristics {
			if c := &t.Services[i].Characteristics[j]; match(c) {
				return c, true
			}
		}
	}
	return nil, false
}

// Builder assigns handles the way a GATT server lays out its database:
// service declaration, then per characteristic a declaration, the value
// and a CCCD when the characteristic can notify.
type Builder struct {
	next     uint16
	services []Service
}

// NewBuilder starts a table at handle 0x0001
func NewBuilder() *Builder {
	return &Builder{next: 1}
}

// AddService opens a new primary service
func (b *Builder) AddService(serviceUUID string) *Builder {
	b.services = append(b.services, Service{
		UUID:        serviceUUID,
		StartHandle: b.alloc(),
	})
	b.current().EndHandle = b.current().StartHandle
	return b
}

// AddCharacteristic appends a characteristic to the last service
func (b *Builder) AddCharacteristic(charUUID string, properties ...string) *Builder {
	svc := b.current()
	if svc == nil {
		return b
	}

	c := Characteristic{UUID: charUUID, Properties: properties}
	c.DeclHandle = b.alloc()
	c.ValueHandle = b.alloc()
	if c.HasProperty(PropNotify) {
		c.CCCDHandle = b.alloc()
	}
	svc.Characteristics = append(svc.Characteristics, c)
	svc.EndHandle = b.next - 1
	return b
}

// Build returns the finished table
func (b *Builder) Build() *Table {
	return &Table{Services: b.services}
}

func (b *Builder) alloc() uint16 {
	h := b.next
	b.next++
	return h
}

func (b *Builder) current() *Service {
	if len(b.services) == 0 {
		return nil
	}
	return &b.services[len(b.services)-1]
}
