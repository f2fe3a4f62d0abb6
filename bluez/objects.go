package bluez

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/user/dictofun-sync/fts"
)

const (
	busName = "org.bluez"

	adapterInterface        = "org.bluez.Adapter1"
	deviceInterface         = "org.bluez.Device1"
	serviceInterface        = "org.bluez.GattService1"
	characteristicInterface = "org.bluez.GattCharacteristic1"

	propertiesInterface    = "org.freedesktop.DBus.Properties"
	propertiesChanged      = propertiesInterface + ".PropertiesChanged"
	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
)

// managedObjects is the reply of ObjectManager.GetManagedObjects
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// AdapterPath returns the object path of adapter ("hci0" -> /org/bluez/hci0)
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath returns the object path BlueZ uses for address on adapter
func DevicePath(adapter, address string) dbus.ObjectPath {
	mac := strings.ToUpper(strings.ReplaceAll(address, ":", "_"))
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", AdapterPath(adapter), mac))
}

func under(path, parent dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(parent)+"/")
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

// resolveSurface finds the file transfer characteristics BlueZ exported under
// device and returns the surface plus each characteristic's object path
func resolveSurface(objects managedObjects, device dbus.ObjectPath) (fts.Surface, map[fts.Characteristic]dbus.ObjectPath) {
	serviceUUIDs := make(map[dbus.ObjectPath]string)
	for path, ifaces := range objects {
		if !under(path, device) {
			continue
		}
		if props, ok := ifaces[serviceInterface]; ok {
			serviceUUIDs[path] = stringProp(props, "UUID")
		}
	}

	services := make(map[string][]string)
	for _, u := range serviceUUIDs {
		services[u] = nil
	}

	paths := make(map[fts.Characteristic]dbus.ObjectPath)
	for path, ifaces := range objects {
		props, ok := ifaces[characteristicInterface]
		if !ok || !under(path, device) {
			continue
		}
		svc, ok := props["Service"].Value().(dbus.ObjectPath)
		if !ok {
			continue
		}
		svcUUID, ok := serviceUUIDs[svc]
		if !ok {
			continue
		}
		charUUID := stringProp(props, "UUID")
		services[svcUUID] = append(services[svcUUID], charUUID)
		if fts.IsServiceUUID(svcUUID) {
			if c, ok := fts.CharacteristicFromUUID(charUUID); ok {
				paths[c] = path
			}
		}
	}

	return fts.SurfaceFromServices(services), paths
}

// Device is a recorder BlueZ knows about
type Device struct {
	Address   string
	Name      string
	RSSI      int16
	Connected bool
	Path      dbus.ObjectPath
}

// devicesWithPrefix lists devices under adapter whose name starts with prefix
func devicesWithPrefix(objects managedObjects, adapter dbus.ObjectPath, prefix string) []Device {
	var devices []Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceInterface]
		if !ok || !under(path, adapter) {
			continue
		}
		name := stringProp(props, "Name")
		if name == "" {
			name = stringProp(props, "Alias")
		}
		if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			continue
		}
		d := Device{
			Address:   stringProp(props, "Address"),
			Name:      name,
			Connected: boolProp(props, "Connected"),
			Path:      path,
		}
		if v, ok := props["RSSI"]; ok {
			d.RSSI, _ = v.Value().(int16)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}
