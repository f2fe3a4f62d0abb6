package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/user/dictofun-sync/fts"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestPublishReachesClient(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dial(t, h)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.Publish(fts.Notice{Kind: fts.NoticeFileReceived, Name: "rec_0001", Size: 600, At: at})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type      string     `json:"type"`
		Payload   fts.Notice `json:"payload"`
		Timestamp string     `json:"timestamp"`
		Uptime    string     `json:"uptime"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}

	if got.Type != "file_received" {
		t.Errorf("Expected type file_received, got %s", got.Type)
	}
	if got.Payload.Name != "rec_0001" || got.Payload.Size != 600 {
		t.Errorf("Expected rec_0001 of 600 bytes, got %s of %d", got.Payload.Name, got.Payload.Size)
	}
	if got.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("Expected RFC 3339 timestamp, got %q", got.Timestamp)
	}
	if !strings.HasSuffix(got.Uptime, "s") {
		t.Errorf("Expected duration string, got %q", got.Uptime)
	}
}

func TestClosedClientIsDropped(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dial(t, h)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected client to be dropped, still have %d", h.ClientCount())
		}
		h.Publish(fts.Notice{Kind: fts.NoticeConnected})
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseRefusesClients(t *testing.T) {
	h := NewHub()
	dial(t, h)

	h.Close()
	if h.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after Close, got %d", h.ClientCount())
	}
	h.Publish(fts.Notice{Kind: fts.NoticeDisconnected})
}
