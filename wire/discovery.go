package wire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/dictofun-sync/util"
	"github.com/user/dictofun-sync/wire/gatt"
)

// Attribute tables and advertising data are published per device on the
// filesystem, which stands in for over-the-air discovery.
const (
	gattFile        = "gatt.json"
	advertisingFile = "advertising.json"
)

// Advertisement is what a peripheral broadcasts
type Advertisement struct {
	Name         string   `json:"name"`
	ServiceUUIDs []string `json:"service_uuids"`
}

// Peer is a device found by Scan
type Peer struct {
	ID          string        `json:"id"`
	Advertising Advertisement `json:"advertising"`
}

// PublishTable writes our attribute table for peers to discover
func (w *Wire) PublishTable(table *gatt.Table) error {
	return writeDeviceJSON(w.id, gattFile, table)
}

// ReadTable performs service discovery against peerID. A peer that never
// published a table has no services.
func (w *Wire) ReadTable(peerID string) (*gatt.Table, error) {
	data, err := os.ReadFile(filepath.Join(util.GetDeviceCacheDir(peerID), gattFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &gatt.Table{}, nil
		}
		return nil, err
	}

	var table gatt.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", gattFile, err)
	}
	return &table, nil
}

// PublishAdvertisement writes our advertising data
func (w *Wire) PublishAdvertisement(adv Advertisement) error {
	return writeDeviceJSON(w.id, advertisingFile, adv)
}

// Scan lists every device with a live socket, sorted by id
func Scan() ([]Peer, error) {
	entries, err := os.ReadDir(util.GetSocketDir())
	if err != nil {
		return nil, err
	}

	var peers []Peer
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "dictofun-") || !strings.HasSuffix(name, ".sock") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "dictofun-"), ".sock")

		peer := Peer{ID: id}
		if data, err := os.ReadFile(filepath.Join(util.GetDeviceCacheDir(id), advertisingFile)); err == nil {
			json.Unmarshal(data, &peer.Advertising)
		}
		peers = append(peers, peer)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

func writeDeviceJSON(id, file string, v interface{}) error {
	deviceDir := util.GetDeviceCacheDir(id)
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return fmt.Errorf("failed to create device directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", file, err)
	}
	if err := os.WriteFile(filepath.Join(deviceDir, file), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}
