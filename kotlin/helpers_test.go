package kotlin

import (
	"os"
	"testing"

	"github.com/user/dictofun-sync/util"
)

// setupTestEnv creates a temporary data dir and points DICTOFUN_SYNC_DIR at it.
// /tmp with a short name keeps socket paths under the length limit.
func setupTestEnv(t *testing.T) string {
	tmpDir, err := os.MkdirTemp("/tmp", "dfs-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	originalDir := os.Getenv(util.DataDirEnv)
	os.Setenv(util.DataDirEnv, tmpDir)

	// Runs after all defers so radios are stopped first
	t.Cleanup(func() {
		if originalDir == "" {
			os.Unsetenv(util.DataDirEnv)
		} else {
			os.Setenv(util.DataDirEnv, originalDir)
		}
		os.RemoveAll(tmpDir)
	})
	return tmpDir
}

// testGattCallback is a BluetoothGattCallback built from optional funcs
type testGattCallback struct {
	onConnectionStateChange func(gatt *BluetoothGatt, status int, newState int)
	onServicesDiscovered    func(gatt *BluetoothGatt, status int)
	onCharacteristicWrite   func(gatt *BluetoothGatt, char *BluetoothGattCharacteristic, status int)
	onCharacteristicChanged func(gatt *BluetoothGatt, char *BluetoothGattCharacteristic, value []byte)
	onDescriptorWrite       func(gatt *BluetoothGatt, descriptor *BluetoothGattDescriptor, status int)
	onMtuChanged            func(gatt *BluetoothGatt, mtu int, status int)
}

func (c *testGattCallback) OnConnectionStateChange(gatt *BluetoothGatt, status int, newState int) {
	if c.onConnectionStateChange != nil {
		c.onConnectionStateChange(gatt, status, newState)
	}
}

func (c *testGattCallback) OnServicesDiscovered(gatt *BluetoothGatt, status int) {
	if c.onServicesDiscovered != nil {
		c.onServicesDiscovered(gatt, status)
	}
}

func (c *testGattCallback) OnCharacteristicWrite(gatt *BluetoothGatt, char *BluetoothGattCharacteristic, status int) {
	if c.onCharacteristicWrite != nil {
		c.onCharacteristicWrite(gatt, char, status)
	}
}

func (c *testGattCallback) OnCharacteristicChanged(gatt *BluetoothGatt, char *BluetoothGattCharacteristic, value []byte) {
	if c.onCharacteristicChanged != nil {
		c.onCharacteristicChanged(gatt, char, value)
	}
}

func (c *testGattCallback) OnDescriptorWrite(gatt *BluetoothGatt, descriptor *BluetoothGattDescriptor, status int) {
	if c.onDescriptorWrite != nil {
		c.onDescriptorWrite(gatt, descriptor, status)
	}
}

func (c *testGattCallback) OnMtuChanged(gatt *BluetoothGatt, mtu int, status int) {
	if c.onMtuChanged != nil {
		c.onMtuChanged(gatt, mtu, status)
	}
}
