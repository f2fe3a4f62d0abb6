package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/util"
	"github.com/user/dictofun-sync/wire/att"
)

// Role is our side of a connection
type Role string

const (
	RoleCentral    Role = "central"    // we dialed
	RolePeripheral Role = "peripheral" // they dialed
)

// PacketHandler receives every ATT PDU that is not a response to one of our
// requests. It runs on the connection's read goroutine.
type PacketHandler func(c *Conn, packet interface{})

// AcceptFunc is called for each inbound connection before its read loop
// starts and returns the handler for that connection.
type AcceptFunc func(c *Conn) PacketHandler

// Wire is one simulated radio: a unix socket at
// {dataDir}/sockets/dictofun-{id}.sock plus the outbound connections it dialed.
type Wire struct {
	id         string
	socketPath string
	maxMTU     int

	listener net.Listener
	onAccept AcceptFunc
	stop     chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	conns   map[string]*Conn
	stopped bool
}

// NewWire creates a radio for device id
func NewWire(id string) *Wire {
	return &Wire{
		id:         id,
		socketPath: socketPathFor(id),
		maxMTU:     att.MaxMTU,
		conns:      make(map[string]*Conn),
	}
}

func socketPathFor(id string) string {
	return filepath.Join(util.GetSocketDir(), fmt.Sprintf("dictofun-%s.sock", id))
}

// ID returns the device id
func (w *Wire) ID() string { return w.id }

// SocketPath returns the listening socket path
func (w *Wire) SocketPath() string { return w.socketPath }

// SetMaxMTU caps what this radio accepts in an MTU exchange
func (w *Wire) SetMaxMTU(mtu int) {
	if mtu < att.DefaultMTU {
		mtu = att.DefaultMTU
	}
	w.maxMTU = mtu
}

// OnAccept installs the inbound connection callback. Set it before Start.
func (w *Wire) OnAccept(fn AcceptFunc) {
	w.onAccept = fn
}

func (w *Wire) tag() string {
	return logger.Tag(w.id, "Wire")
}

// Start begins listening for inbound connections
func (w *Wire) Start() error {
	os.Remove(w.socketPath)

	listener, err := net.Listen("unix", w.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.socketPath, err)
	}
	w.listener = listener
	w.stop = make(chan struct{})

	w.wg.Add(1)
	go w.acceptConnections()

	logger.Debug(w.tag(), "📡 Listening on %s", w.socketPath)
	return nil
}

// Stop closes the listener and every connection (idempotent)
func (w *Wire) Stop() {
	if w.stop != nil {
		select {
		case <-w.stop:
			return
		default:
			close(w.stop)
		}
		w.listener.Close()
	}

	w.mu.Lock()
	w.stopped = true
	conns := make([]*Conn, 0, len(w.conns))
	for _, c := range w.conns {
		conns = append(conns, c)
	}
	w.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	w.wg.Wait()
	os.Remove(w.socketPath)
}

func (w *Wire) acceptConnections() {
	defer w.wg.Done()

	for {
		nc, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.stop:
				return
			default:
			}
			logger.Warn(w.tag(), "⚠️  Accept failed: %v", err)
			continue
		}
		go w.handleIncoming(nc)
	}
}

// handleIncoming reads the handshake (4-byte BE length + peer id); we become Peripheral
func (w *Wire) handleIncoming(nc net.Conn) {
	var idLen uint32
	if err := binary.Read(nc, binary.BigEndian, &idLen); err != nil || idLen == 0 || idLen > 256 {
		nc.Close()
		return
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(nc, idBytes); err != nil {
		nc.Close()
		return
	}
	peerID := string(idBytes)

	c := newConn(w, nc, peerID, RolePeripheral)
	if !w.register(c) {
		logger.Warn(w.tag(), "⚠️  Rejecting duplicate connection from %s", shortID(peerID))
		nc.Close()
		return
	}

	if w.onAccept != nil {
		c.handler = w.onAccept(c)
	}
	logger.Info(w.tag(), "🔗 Accepted connection from %s", shortID(peerID))
	c.start()
}

// Connect dials peerID; we become Central. handler receives the peer's
// requests and notifications.
func (w *Wire) Connect(peerID string, handler PacketHandler) (*Conn, error) {
	if _, exists := w.Connection(peerID); exists {
		return nil, fmt.Errorf("already connected to %s", peerID)
	}

	nc, err := net.Dial("unix", socketPathFor(peerID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", peerID, err)
	}

	if err := binary.Write(nc, binary.BigEndian, uint32(len(w.id))); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	if _, err := nc.Write([]byte(w.id)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	c := newConn(w, nc, peerID, RoleCentral)
	c.handler = handler
	if !w.register(c) {
		nc.Close()
		return nil, fmt.Errorf("concurrent connection detected - another goroutine already connected to %s", peerID)
	}

	logger.Info(w.tag(), "🔗 Connected to %s", shortID(peerID))
	c.start()
	return c, nil
}

// Connection returns the live connection to peerID
func (w *Wire) Connection(peerID string) (*Conn, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.conns[peerID]
	return c, ok
}

func (w *Wire) register(c *Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.conns[c.peer]; exists || w.stopped {
		return false
	}
	w.conns[c.peer] = c
	return true
}

func (w *Wire) unregister(c *Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conns[c.peer] == c {
		delete(w.conns, c.peer)
	}
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
