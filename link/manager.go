package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/logger"
)

// LinkState is the state of the GATT link
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	Connected
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

var (
	// ErrUnsupportedDevice is returned by Pull when the peer is not a recorder
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrTransferAborted is returned by Pull when the session was abandoned
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrNotRunning is returned when the event loop is not running
	ErrNotRunning = errors.New("event loop not running")

	// ErrNotConnected is returned by transports used before Connect succeeded
	ErrNotConnected = errors.New("not connected")
)

// NoticeHandler receives upward notices on the event loop goroutine. It must
// not block and must not call Disconnect.
type NoticeHandler func(n fts.Notice)

// Manager owns the link lifecycle and serializes every protocol event through
// one goroutine (Run). Session actions are executed in the order returned.
type Manager struct {
	transport Transport
	session   *fts.Session
	queue     chan envelope
	done      chan struct{}
	running   chan struct{}

	mu       sync.RWMutex
	state    LinkState
	address  string
	progress fts.Progress

	handlerMu sync.RWMutex
	handlers  map[int]NoticeHandler
	nextID    int

	settleMu    sync.Mutex
	settleTimer *time.Timer
}

// NewManager creates a manager driving session over transport
func NewManager(transport Transport, session *fts.Session) *Manager {
	return &Manager{
		transport: transport,
		session:   session,
		queue:     make(chan envelope, 256),
		done:      make(chan struct{}),
		running:   make(chan struct{}),
		handlers:  make(map[int]NoticeHandler),
	}
}

// Subscribe registers h for upward notices and returns a function removing it
func (m *Manager) Subscribe(h NoticeHandler) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	return func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		delete(m.handlers, id)
	}
}

// State returns the link state
func (m *Manager) State() LinkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Address returns the address of the current or last peer
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// Progress returns the transfer snapshot taken after the last event
func (m *Manager) Progress() fts.Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress
}

func (m *Manager) tag() string {
	return logger.Tag(m.Address(), "ConnMgr")
}

func (m *Manager) setState(s LinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != s {
		logger.Debug(logger.Tag(m.address, "ConnMgr"), "🔗 %s -> %s", m.state, s)
	}
	m.state = s
}

// Run processes events until ctx is done. Call it once, in its own goroutine.
func (m *Manager) Run(ctx context.Context) error {
	close(m.running)
	defer m.transport.Close()
	defer close(m.done)
	defer m.stopSettle()

	go m.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-m.queue:
			m.dispatch(env.ev)
			if env.handled != nil {
				close(env.handled)
			}
		}
	}
}

// Running is closed once Run has started accepting events
func (m *Manager) Running() <-chan struct{} {
	return m.running
}

// forward moves transport events into the loop queue
func (m *Manager) forward(ctx context.Context) {
	events := m.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.post(ev)
		}
	}
}

// envelope carries an event into the loop. handled, when set, is closed
// after the event and its follow-ups have been dispatched.
type envelope struct {
	ev      fts.Event
	handled chan struct{}
}

// post enqueues an event for the loop. It gives up once the loop has exited.
func (m *Manager) post(ev fts.Event) {
	select {
	case m.queue <- envelope{ev: ev}:
	case <-m.done:
	}
}

// postAndWait enqueues ev and returns once the loop has dispatched it or exited
func (m *Manager) postAndWait(ev fts.Event) {
	handled := make(chan struct{})
	select {
	case m.queue <- envelope{ev: ev, handled: handled}:
	case <-m.done:
		return
	}
	select {
	case <-handled:
	case <-m.done:
	}
}

// Connect opens the link and discovers services. Protocol traffic then
// proceeds on the event loop.
func (m *Manager) Connect(ctx context.Context, address string) error {
	select {
	case <-m.running:
	default:
		return ErrNotRunning
	}
	if st := m.State(); st != Disconnected {
		return fmt.Errorf("cannot connect while %s", st)
	}

	m.mu.Lock()
	m.address = address
	m.mu.Unlock()
	m.setState(Connecting)

	logger.Info(m.tag(), "🔌 Connecting to %s", address)
	if err := m.transport.Connect(ctx, address); err != nil {
		m.setState(Disconnected)
		logger.Warn(m.tag(), "❌ Connect failed: %v", err)
		return fmt.Errorf("connect %s: %w", address, err)
	}
	m.setState(Connected)
	m.post(fts.Connected{Address: address})

	surface, err := m.transport.DiscoverServices(ctx)
	if err != nil {
		if fts.IsUnsupportedDevice(err) {
			// Let the session classify and report it
			m.post(fts.ServicesDiscovered{Surface: fts.Surface{}})
			return nil
		}
		logger.Warn(m.tag(), "❌ Service discovery failed: %v", err)
		if derr := m.transport.Disconnect(); derr != nil {
			logger.Warn(m.tag(), "⚠️  Disconnect failed: %v", derr)
		}
		m.postAndWait(fts.LinkLost{Err: err})
		m.setState(Disconnected)
		return fmt.Errorf("discover services: %w", err)
	}
	m.post(fts.ServicesDiscovered{Surface: surface})
	return nil
}

// Disconnect drops the link and returns once the session has reset to Idle,
// so Connect may follow immediately.
func (m *Manager) Disconnect() error {
	if m.State() == Disconnected {
		return nil
	}
	err := m.transport.Disconnect()
	m.postAndWait(fts.LinkLost{})
	// the loop may have exited before seeing it
	m.setState(Disconnected)
	return err
}

// dispatch runs one event and every follow-up event its actions produce
func (m *Manager) dispatch(ev fts.Event) {
	pending := []fts.Event{ev}
	for len(pending) > 0 {
		ev := pending[0]
		pending = pending[1:]

		if _, lost := ev.(fts.LinkLost); lost {
			m.setState(Disconnected)
			m.stopSettle()
		}

		for _, action := range m.session.Handle(ev) {
			if follow := m.execute(action); follow != nil {
				pending = append(pending, follow)
			}
		}
	}

	m.mu.Lock()
	m.progress = m.session.Progress()
	m.mu.Unlock()
}

// execute performs one action. A failure comes back as an event for the session.
func (m *Manager) execute(action fts.Action) fts.Event {
	switch a := action.(type) {
	case fts.EnableNotification:
		if err := m.transport.EnableNotification(a.Characteristic); err != nil {
			logger.Warn(m.tag(), "❌ Enable %s failed: %v", a.Characteristic, err)
			return fts.DescriptorWritten{Characteristic: a.Characteristic, Err: err}
		}

	case fts.SendCommand:
		data, err := fts.EncodeCommand(a.Command)
		if err == nil {
			err = m.transport.WriteCommand(data)
		}
		if err != nil {
			logger.Warn(m.tag(), "❌ Write %s failed: %v", a.Command, err)
			return fts.CommandWriteFailed{Command: a.Command, Err: err}
		}
		logger.Debug(m.tag(), "📤 Sent %s", a.Command)

	case fts.ScheduleSettle:
		m.settleMu.Lock()
		if m.settleTimer != nil {
			m.settleTimer.Stop()
		}
		gen := a.Generation
		m.settleTimer = time.AfterFunc(a.Delay, func() {
			m.post(fts.SettleElapsed{Generation: gen})
		})
		m.settleMu.Unlock()
		logger.Debug(m.tag(), "⏱️  Settling for %v", a.Delay)

	case fts.RequestDisconnect:
		logger.Info(m.tag(), "🔌 Disconnecting: %v", a.Reason)
		if err := m.transport.Disconnect(); err != nil {
			logger.Warn(m.tag(), "⚠️  Disconnect failed: %v", err)
		}
		if m.State() != Disconnected {
			return fts.LinkLost{Err: a.Reason}
		}

	case fts.Publish:
		m.notify(a.Notice)
	}
	return nil
}

func (m *Manager) notify(n fts.Notice) {
	m.handlerMu.RLock()
	handlers := make([]NoticeHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
}

func (m *Manager) stopSettle() {
	m.settleMu.Lock()
	defer m.settleMu.Unlock()
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
}
