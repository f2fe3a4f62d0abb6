package link

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/kotlin"
	"github.com/user/dictofun-sync/recorder"
	"github.com/user/dictofun-sync/storage"
	"github.com/user/dictofun-sync/util"
	"github.com/user/dictofun-sync/wire"
)

// setupTestEnv points the data dir at a short /tmp path (unix socket path limit)
func setupTestEnv(t *testing.T) string {
	tmpDir, err := os.MkdirTemp("/tmp", "dfs-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	originalDir := os.Getenv(util.DataDirEnv)
	os.Setenv(util.DataDirEnv, tmpDir)

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

type simHarness struct {
	recorder *recorder.Recorder
	manager  *Manager
	library  *storage.Library
}

func startSim(t *testing.T, files [][]byte, opts recorder.Options, policy fts.ZeroSizePolicy) *simHarness {
	t.Helper()
	return startSimWith(t, files, opts, policy, func(w *wire.Wire) Transport {
		return NewKotlinTransport(w, DefaultMTU)
	})
}

// startSimWith wires an emulated recorder, a central radio running the
// transport built by newTransport, and a library under a fresh data dir
func startSimWith(t *testing.T, files [][]byte, opts recorder.Options, policy fts.ZeroSizePolicy, newTransport func(*wire.Wire) Transport) *simHarness {
	t.Helper()
	dataDir := setupTestEnv(t)

	r := recorder.New("dictofun-sim", files, opts)
	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start recorder: %v", err)
	}
	t.Cleanup(r.Stop)

	phone := wire.NewWire("phone-central")
	if err := phone.Start(); err != nil {
		t.Fatalf("Failed to start central radio: %v", err)
	}
	t.Cleanup(phone.Stop)

	lib, err := storage.OpenLibrary(dataDir)
	if err != nil {
		t.Fatalf("OpenLibrary failed: %v", err)
	}
	t.Cleanup(func() { lib.Close() })

	session := fts.NewSession(lib.NewSink(), fts.SessionConfig{
		SettleDelay:    20 * time.Millisecond,
		ZeroSizePolicy: policy,
	})
	m := NewManager(newTransport(phone), session)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)
	<-m.running

	return &simHarness{recorder: r, manager: m, library: lib}
}

func TestKotlinTransportPullOverSockets(t *testing.T) {
	first := bytes.Repeat([]byte("RIFF"), 300)
	second := []byte("short recording")
	h := startSim(t, [][]byte{first, {}, second}, recorder.Options{}, fts.ZeroSizeSkip)

	result, err := h.manager.Pull(pullCtx(t), "dictofun-sim")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("Expected 2 files (zero-size slot skipped), got %d", len(result.Files))
	}

	for i, want := range [][]byte{first, second} {
		got, err := os.ReadFile(result.Files[i].Path)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", result.Files[i].Path, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("File %d: expected %d bytes, got %d", i, len(want), len(got))
		}
	}

	recs, err := h.library.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("Expected 2 indexed recordings, got %d", len(recs))
	}
	if h.recorder.Served() != 2 {
		t.Errorf("Expected recorder to serve 2 files, got %d", h.recorder.Served())
	}
	t.Logf("✅ Pulled %d files over the simulated radio", len(result.Files))
}

func TestKotlinTransportUnsupportedDevice(t *testing.T) {
	h := startSim(t, [][]byte{[]byte("x")}, recorder.Options{
		Omit: []fts.Characteristic{fts.FileInfoNotify},
	}, fts.ZeroSizeSkip)

	_, err := h.manager.Pull(pullCtx(t), "dictofun-sim")
	if !errors.Is(err, ErrUnsupportedDevice) {
		t.Fatalf("Expected ErrUnsupportedDevice, got %v", err)
	}
	if h.manager.State() != Disconnected {
		t.Errorf("Expected Disconnected, got %s", h.manager.State())
	}
}

func TestKotlinTransportSubscriptionRejected(t *testing.T) {
	h := startSim(t, [][]byte{[]byte("x")}, recorder.Options{
		FailCCCD: []fts.Characteristic{fts.FileDataNotify},
	}, fts.ZeroSizeSkip)

	_, err := h.manager.Pull(pullCtx(t), "dictofun-sim")
	if !errors.Is(err, ErrUnsupportedDevice) {
		t.Fatalf("Expected ErrUnsupportedDevice, got %v", err)
	}
}

func TestKotlinTransportLinkDropAndRetry(t *testing.T) {
	file := bytes.Repeat([]byte{0xA5}, 2000)
	h := startSim(t, [][]byte{file}, recorder.Options{DropAfterBytes: 500, ChunkSize: 100}, fts.ZeroSizeSkip)

	_, err := h.manager.Pull(pullCtx(t), "dictofun-sim")
	if !errors.Is(err, ErrTransferAborted) {
		t.Fatalf("Expected ErrTransferAborted, got %v", err)
	}
	if recs, _ := h.library.List(); len(recs) != 0 {
		t.Fatalf("Expected partial file to be discarded, got %d recordings", len(recs))
	}

	// The recorder only drops once
	deadline := time.Now().Add(time.Second)
	for {
		_, err = h.manager.Pull(pullCtx(t), "dictofun-sim")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if recs, _ := h.library.List(); len(recs) != 1 || recs[0].Size != int64(len(file)) {
		t.Errorf("Expected one complete recording after retry, got %+v", recs)
	}
}

func TestKotlinTransportCloseReleasesCallbacks(t *testing.T) {
	tr := &KotlinTransport{id: "phone", events: make(chan fts.Event, 1), done: make(chan struct{})}
	tr.emit(fts.SettleElapsed{})

	char := &kotlin.BluetoothGattCharacteristic{UUID: fts.FileDataNotify.UUID().String()}
	returned := make(chan struct{})
	go func() {
		tr.OnCharacteristicChanged(nil, char, []byte{1})
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Expected the callback to wait while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	tr.Close()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Callback still blocked after Close")
	}
	if len(tr.events) != 1 {
		t.Errorf("Expected 1 queued event, got %d", len(tr.events))
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}
}
