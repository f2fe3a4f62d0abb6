package bluez

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/user/dictofun-sync/fts"
)

const testDevice = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

func recorderObjects(chars ...fts.Characteristic) managedObjects {
	svc := testDevice + "/service0010"
	objects := managedObjects{
		testDevice: {
			deviceInterface: {
				"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF"),
				"Name":    dbus.MakeVariant("dictofun"),
			},
		},
		svc: {
			serviceInterface: {"UUID": dbus.MakeVariant(fts.ServiceUUID.String())},
		},
		testDevice + "/service0001": {
			serviceInterface: {"UUID": dbus.MakeVariant("00001801-0000-1000-8000-00805f9b34fb")},
		},
	}
	for i, c := range chars {
		path := dbus.ObjectPath(string(svc) + "/char00" + string(rune('a'+i)))
		objects[path] = map[string]map[string]dbus.Variant{
			characteristicInterface: {
				"UUID":    dbus.MakeVariant(c.UUID().String()),
				"Service": dbus.MakeVariant(svc),
			},
		}
	}
	return objects
}

func TestDevicePath(t *testing.T) {
	tests := []struct {
		adapter  string
		address  string
		expected dbus.ObjectPath
	}{
		{"hci0", "AA:BB:CC:DD:EE:FF", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"},
		{"hci1", "aa:bb:cc:dd:ee:01", "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_01"},
	}

	for _, tt := range tests {
		if got := DevicePath(tt.adapter, tt.address); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}

func TestResolveSurfaceComplete(t *testing.T) {
	surface, paths := resolveSurface(recorderObjects(fts.AllCharacteristics()...), testDevice)

	if err := surface.Check(); err != nil {
		t.Fatalf("Expected complete surface, got %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("Expected 4 characteristic paths, got %d", len(paths))
	}
	for _, c := range fts.AllCharacteristics() {
		if paths[c] == "" {
			t.Errorf("Expected a path for %s", c)
		}
	}
}

func TestResolveSurfaceMissingCharacteristic(t *testing.T) {
	surface, _ := resolveSurface(recorderObjects(fts.CommandOut, fts.FileDataNotify, fts.FilesystemInfoNotify), testDevice)

	err := surface.Check()
	if !errors.Is(err, fts.ErrCharacteristicNotFound) {
		t.Errorf("Expected ErrCharacteristicNotFound, got %v", err)
	}
}

func TestResolveSurfaceOtherDevice(t *testing.T) {
	surface, paths := resolveSurface(recorderObjects(fts.AllCharacteristics()...), "/org/bluez/hci0/dev_11_22_33_44_55_66")

	if surface.ServicePresent {
		t.Error("Expected no service for a different device")
	}
	if len(paths) != 0 {
		t.Errorf("Expected no paths, got %d", len(paths))
	}
	if !errors.Is(surface.Check(), fts.ErrServiceNotFound) {
		t.Errorf("Expected ErrServiceNotFound, got %v", surface.Check())
	}
}

func TestDevicesWithPrefix(t *testing.T) {
	objects := managedObjects{
		"/org/bluez/hci0/dev_AA_AA_AA_AA_AA_02": {deviceInterface: {
			"Address": dbus.MakeVariant("AA:AA:AA:AA:AA:02"),
			"Name":    dbus.MakeVariant("Dictofun-2"),
			"RSSI":    dbus.MakeVariant(int16(-70)),
		}},
		"/org/bluez/hci0/dev_AA_AA_AA_AA_AA_01": {deviceInterface: {
			"Address":   dbus.MakeVariant("AA:AA:AA:AA:AA:01"),
			"Alias":     dbus.MakeVariant("dictofun"),
			"Connected": dbus.MakeVariant(true),
		}},
		"/org/bluez/hci0/dev_BB_BB_BB_BB_BB_BB": {deviceInterface: {
			"Address": dbus.MakeVariant("BB:BB:BB:BB:BB:BB"),
			"Name":    dbus.MakeVariant("headphones"),
		}},
		"/org/bluez/hci1/dev_CC_CC_CC_CC_CC_CC": {deviceInterface: {
			"Address": dbus.MakeVariant("CC:CC:CC:CC:CC:CC"),
			"Name":    dbus.MakeVariant("dictofun"),
		}},
	}

	devices := devicesWithPrefix(objects, AdapterPath("hci0"), "dictofun")
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	if devices[0].Address != "AA:AA:AA:AA:AA:01" || !devices[0].Connected {
		t.Errorf("Expected connected AA:AA:AA:AA:AA:01 first, got %+v", devices[0])
	}
	if devices[1].RSSI != -70 {
		t.Errorf("Expected RSSI -70, got %d", devices[1].RSSI)
	}
}

func TestTranslateSignal(t *testing.T) {
	charPath := testDevice + "/service0010/char0012"
	chars := map[dbus.ObjectPath]fts.Characteristic{charPath: fts.FileDataNotify}

	t.Run("notification", func(t *testing.T) {
		sig := &dbus.Signal{
			Path: charPath,
			Name: propertiesChanged,
			Body: []interface{}{characteristicInterface, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{1, 2, 3})}, []string{}},
		}
		ev, ok := translateSignal(sig, testDevice, chars).(fts.NotificationReceived)
		if !ok {
			t.Fatalf("Expected NotificationReceived, got %T", translateSignal(sig, testDevice, chars))
		}
		if ev.Characteristic != fts.FileDataNotify || len(ev.Value) != 3 {
			t.Errorf("Expected 3 bytes on FileDataNotify, got %d on %s", len(ev.Value), ev.Characteristic)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		sig := &dbus.Signal{
			Path: testDevice,
			Name: propertiesChanged,
			Body: []interface{}{deviceInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}, []string{}},
		}
		ev, ok := translateSignal(sig, testDevice, chars).(fts.LinkLost)
		if !ok {
			t.Fatal("Expected LinkLost")
		}
		if !errors.Is(ev.Err, fts.ErrLinkLost) {
			t.Errorf("Expected ErrLinkLost, got %v", ev.Err)
		}
	})

	ignored := []struct {
		name string
		sig  *dbus.Signal
	}{
		{"unknown characteristic", &dbus.Signal{
			Path: testDevice + "/service0010/char0099",
			Name: propertiesChanged,
			Body: []interface{}{characteristicInterface, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{1})}, []string{}},
		}},
		{"notifying flag", &dbus.Signal{
			Path: charPath,
			Name: propertiesChanged,
			Body: []interface{}{characteristicInterface, map[string]dbus.Variant{"Notifying": dbus.MakeVariant(true)}, []string{}},
		}},
		{"rssi update", &dbus.Signal{
			Path: testDevice,
			Name: propertiesChanged,
			Body: []interface{}{deviceInterface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-60))}, []string{}},
		}},
		{"other signal", &dbus.Signal{Path: testDevice, Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded"}},
	}
	for _, tt := range ignored {
		t.Run(tt.name, func(t *testing.T) {
			if ev := translateSignal(tt.sig, testDevice, chars); ev != nil {
				t.Errorf("Expected no event, got %s", fts.DescribeEvent(ev))
			}
		})
	}
}
