package kotlin

// GATT status codes
const (
	GATT_SUCCESS             = 0
	GATT_WRITE_NOT_PERMITTED = 3
	GATT_CONNECTION_TIMEOUT  = 8
	GATT_FAILURE             = 257
)

// Connection states
const (
	STATE_DISCONNECTED = 0
	STATE_CONNECTING   = 1
	STATE_CONNECTED    = 2
)

// BluetoothGattService types
const (
	SERVICE_TYPE_PRIMARY   = 0
	SERVICE_TYPE_SECONDARY = 1
)

// BluetoothGattCharacteristic properties
const (
	PROPERTY_READ              = 0x02
	PROPERTY_WRITE_NO_RESPONSE = 0x04
	PROPERTY_WRITE             = 0x08
	PROPERTY_NOTIFY            = 0x10
)

// BluetoothGattCharacteristic write types
const (
	WRITE_TYPE_NO_RESPONSE = 1
	WRITE_TYPE_DEFAULT     = 2
)

// CLIENT_CHARACTERISTIC_CONFIG is the CCCD UUID
const CLIENT_CHARACTERISTIC_CONFIG = "00002902-0000-1000-8000-00805f9b34fb"

// Descriptor values
var (
	ENABLE_NOTIFICATION_VALUE  = []byte{0x01, 0x00}
	DISABLE_NOTIFICATION_VALUE = []byte{0x00, 0x00}
)
