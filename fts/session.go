package fts

import (
	"errors"
	"time"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/storage"
)

// SessionConfig tunes a Session
type SessionConfig struct {
	// SettleDelay separates the last subscription confirmation from the first command
	SettleDelay time.Duration
	// ZeroSizePolicy decides what an empty file-info does
	ZeroSizePolicy ZeroSizePolicy
	// Now stamps notices. Defaults to time.Now.
	Now func() time.Time
}

// Session owns the protocol state of one peer: subscription sequencer, transfer
// machine and sink. Handle is the only entry point and must be called from a
// single goroutine.
type Session struct {
	cfg        SessionConfig
	seq        *Sequencer
	transfer   *Transfer
	address    string
	linkUp     bool
	halted     bool // unsupported device: no further traffic on this link
	generation uint64
	prefix     string
}

// NewSession creates a session writing received files into sink
func NewSession(sink Sink, cfg SessionConfig) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		cfg:      cfg,
		seq:      NewSequencer(),
		transfer: NewTransfer(sink, cfg.ZeroSizePolicy),
		prefix:   "Session",
	}
}

// Handle reacts to one event and returns the actions to perform, in order
func (s *Session) Handle(ev Event) []Action {
	logger.Trace(s.prefix, "⚡ %s", DescribeEvent(ev))
	before := s.transfer.State()

	var actions []Action
	switch e := ev.(type) {
	case Connected:
		actions = s.onConnected(e)
	case ServicesDiscovered:
		actions = s.onServicesDiscovered(e)
	case DescriptorWritten:
		actions = s.onDescriptorWritten(e)
	case SettleElapsed:
		actions = s.onSettleElapsed(e)
	case NotificationReceived:
		actions = s.onNotification(e)
	case CommandWriteFailed:
		actions = s.onCommandWriteFailed(e)
	case LinkLost:
		actions = s.onLinkLost(e)
	default:
		logger.Warn(s.prefix, "⚠️  Ignoring unknown event %T", ev)
	}

	if s.transfer.State() != before {
		logger.DebugJSON(s.prefix, "📊 Progress", s.Progress())
	}
	return s.stamp(actions)
}

// Progress returns a snapshot including the subscription state
func (s *Session) Progress() Progress {
	p := s.transfer.Progress()
	p.Subscription = s.seq.State().String()
	return p
}

// SubscriptionState returns the sequencer state
func (s *Session) SubscriptionState() SequencerState {
	return s.seq.State()
}

// TransferState returns the transfer state
func (s *Session) TransferState() TransferState {
	return s.transfer.State()
}

// Halted reports whether the peer was classified as unsupported
func (s *Session) Halted() bool {
	return s.halted
}

func (s *Session) onConnected(e Connected) []Action {
	// A reconnect may arrive without the drop ever being reported
	var actions []Action
	if s.transfer.Active() {
		actions = s.transfer.OnLinkLost(ErrLinkLost)
	}

	s.address = e.Address
	s.prefix = logger.Tag(e.Address, "Session")
	s.transfer.prefix = logger.Tag(e.Address, "Transfer")
	s.linkUp = true
	s.halted = false
	s.generation++
	s.seq.Reset()
	logger.Info(s.prefix, "✅ Connected to %s", e.Address)
	return append(actions, publish(Notice{Kind: NoticeConnected}))
}

func (s *Session) onServicesDiscovered(e ServicesDiscovered) []Action {
	if !s.linkUp || s.halted {
		logger.Warn(s.prefix, "⚠️  Services discovered without a usable link, ignoring")
		return nil
	}
	first, err := s.seq.Begin(e.Surface)
	if err != nil {
		if IsUnsupportedDevice(err) {
			return s.unsupported(err)
		}
		logger.Warn(s.prefix, "⚠️  %v", err)
		return nil
	}
	logger.Debug(s.prefix, "🔔 Enabling %s", first)
	return []Action{EnableNotification{Characteristic: first}}
}

func (s *Session) onDescriptorWritten(e DescriptorWritten) []Action {
	if s.halted {
		return nil
	}

	if e.Err != nil {
		err := s.seq.Fail(e.Characteristic, e.Err)
		if errors.Is(err, ErrOutOfOrderConfirmation) {
			logger.Warn(s.prefix, "⚠️  Rejected: %v", err)
			return nil
		}
		return s.unsupported(err)
	}

	next, ready, err := s.seq.Confirm(e.Characteristic)
	if err != nil {
		logger.Warn(s.prefix, "⚠️  Rejected: %v", err)
		return nil
	}
	if !ready {
		logger.Debug(s.prefix, "🔔 %s armed, enabling %s", e.Characteristic, next)
		return []Action{EnableNotification{Characteristic: next}}
	}

	logger.Info(s.prefix, "✅ Subscriptions ready")
	actions := []Action{publish(Notice{Kind: NoticeSubscriptionReady})}
	if s.cfg.SettleDelay > 0 {
		return append(actions, ScheduleSettle{Delay: s.cfg.SettleDelay, Generation: s.generation})
	}
	return append(actions, s.startTransfer()...)
}

func (s *Session) onSettleElapsed(e SettleElapsed) []Action {
	if e.Generation != s.generation || s.halted || !s.linkUp {
		logger.Debug(s.prefix, "⏱️  Stale settle timer (gen %d, current %d)", e.Generation, s.generation)
		return nil
	}
	return s.startTransfer()
}

func (s *Session) startTransfer() []Action {
	if !s.seq.Ready() {
		logger.Warn(s.prefix, "⚠️  %v", ErrNotReady)
		return nil
	}
	actions, err := s.transfer.Start()
	if err != nil {
		logger.Warn(s.prefix, "⚠️  %v", err)
		return nil
	}
	return actions
}

func (s *Session) onNotification(e NotificationReceived) []Action {
	if s.halted || !s.linkUp {
		return nil
	}
	if !s.seq.Ready() {
		logger.Warn(s.prefix, "⚠️  %s notification before subscriptions are ready (%s), ignoring",
			e.Characteristic, s.seq.State())
		return nil
	}

	var (
		actions []Action
		err     error
	)
	switch e.Characteristic {
	case FilesystemInfoNotify:
		actions, err = s.transfer.OnFilesystemInfo(e.Value)
	case FileInfoNotify:
		actions, err = s.transfer.OnFileInfo(e.Value)
	case FileDataNotify:
		actions, err = s.transfer.OnFileData(e.Value)
	default:
		err = ErrUnexpectedNotification
	}

	if err != nil {
		if errors.Is(err, storage.ErrOverrunChunk) {
			logger.Warn(s.prefix, "⚠️  Overrun chunk ignored: %v", err)
		} else {
			logger.Warn(s.prefix, "⚠️  Ignored %s: %v", e.Characteristic, err)
		}
	}
	return actions
}

func (s *Session) onCommandWriteFailed(e CommandWriteFailed) []Action {
	if s.halted {
		return nil
	}
	if IsUnsupportedDevice(e.Err) {
		return s.unsupported(e.Err)
	}
	return s.transfer.Abort(e.Err)
}

func (s *Session) onLinkLost(e LinkLost) []Action {
	cause := e.Err
	if cause == nil {
		cause = ErrDisconnectRequested
	}
	wasUp := s.linkUp

	actions := s.transfer.OnLinkLost(cause)
	s.seq.Reset()
	s.generation++
	s.linkUp = false
	s.halted = false

	if !wasUp {
		return actions
	}
	logger.Info(s.prefix, "🔌 Disconnected: %v", cause)
	return append(actions, publish(Notice{Kind: NoticeDisconnected, Reason: reason(cause)}))
}

// unsupported stops all protocol traffic and asks for a disconnect
func (s *Session) unsupported(err error) []Action {
	logger.Error(s.prefix, "❌ Unsupported device: %v", err)
	s.halted = true
	actions := s.transfer.Abort(err)
	return append(actions,
		publish(Notice{Kind: NoticeUnsupportedDevice, Reason: reason(err)}),
		RequestDisconnect{Reason: err},
	)
}

func (s *Session) stamp(actions []Action) []Action {
	for i, a := range actions {
		if p, ok := a.(Publish); ok {
			if p.Notice.At.IsZero() {
				p.Notice.At = s.cfg.Now()
			}
			if p.Notice.Address == "" {
				p.Notice.Address = s.address
			}
			actions[i] = p
		}
	}
	return actions
}
