package fts

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/user/dictofun-sync/storage"
)

type sessionHarness struct {
	t     *testing.T
	s     *Session
	store *storage.DirStore
}

func newSessionHarness(t *testing.T, cfg SessionConfig) *sessionHarness {
	sink, store := newTestSink(t)
	return &sessionHarness{t: t, s: NewSession(sink, cfg), store: store}
}

func (h *sessionHarness) handle(ev Event) []Action {
	return h.s.Handle(ev)
}

// handshake connects, discovers and confirms all three subscriptions.
// It returns the actions produced by the last confirmation.
func (h *sessionHarness) handshake() []Action {
	h.t.Helper()
	h.handle(Connected{Address: "AA:BB:CC:DD:EE:FF"})

	actions := h.handle(ServicesDiscovered{Surface: fullSurface()})
	for _, c := range SubscriptionOrder {
		if len(actions) == 0 {
			h.t.Fatalf("Expected EnableNotification(%s), got nothing", c)
		}
		en, ok := actions[len(actions)-1].(EnableNotification)
		if !ok || en.Characteristic != c {
			h.t.Fatalf("Expected EnableNotification(%s), got %#v", c, actions)
		}
		actions = h.handle(DescriptorWritten{Characteristic: c})
	}
	return actions
}

func settleOf(t *testing.T, actions []Action) ScheduleSettle {
	t.Helper()
	for _, a := range actions {
		if s, ok := a.(ScheduleSettle); ok {
			return s
		}
	}
	t.Fatalf("Expected ScheduleSettle in %#v", actions)
	return ScheduleSettle{}
}

func TestSessionHandshakeSchedulesSettle(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{SettleDelay: time.Second})

	actions := h.handshake()
	if !hasNotice(actions, NoticeSubscriptionReady) {
		t.Fatal("Expected subscription_ready")
	}
	expectCommands(t, actions) // nothing sent before the settle delay

	settle := settleOf(t, actions)
	if settle.Delay != time.Second {
		t.Errorf("Expected 1s settle delay, got %v", settle.Delay)
	}

	actions = h.handle(SettleElapsed{Generation: settle.Generation})
	expectCommands(t, actions, CommandGetFilesystemInfo)
	if h.s.TransferState() != AwaitingFilesystemInfo {
		t.Errorf("Expected AwaitingFilesystemInfo, got %s", h.s.TransferState())
	}

	// A second timer firing must not start another pass
	actions = h.handle(SettleElapsed{Generation: settle.Generation})
	expectCommands(t, actions)
}

func TestSessionZeroSettleSendsImmediately(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{})
	actions := h.handshake()
	expectCommands(t, actions, CommandGetFilesystemInfo)
}

func TestSessionFileInfoBeforeHandshakeIgnored(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{})

	h.handle(Connected{Address: "dev"})
	h.handle(ServicesDiscovered{Surface: fullSurface()})
	h.handle(DescriptorWritten{Characteristic: FileDataNotify})

	// FilesystemInfo not yet confirmed: file info must not be routed
	actions := h.handle(NotificationReceived{Characteristic: FileInfoNotify, Value: length(10)})
	if len(actions) != 0 {
		t.Fatalf("Expected notification to be ignored, got %#v", actions)
	}
	if h.s.TransferState() != TransferIdle {
		t.Errorf("Expected transfer Idle, got %s", h.s.TransferState())
	}

	// Out-of-order confirmation is rejected without advancing
	actions = h.handle(DescriptorWritten{Characteristic: FileInfoNotify})
	if len(actions) != 0 {
		t.Fatalf("Expected out-of-order confirmation to be ignored, got %#v", actions)
	}
	if h.s.SubscriptionState() != FsInfoRequested {
		t.Errorf("Expected FsInfoRequested, got %s", h.s.SubscriptionState())
	}
}

func TestSessionUnsupportedDevice(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{})
	h.handle(Connected{Address: "dev"})

	services := fullServices()
	delete(services, ServiceUUID.String())
	actions := h.handle(ServicesDiscovered{Surface: SurfaceFromServices(services)})

	if !hasNotice(actions, NoticeUnsupportedDevice) {
		t.Fatal("Expected unsupported_device")
	}
	last, ok := actions[len(actions)-1].(RequestDisconnect)
	if !ok {
		t.Fatalf("Expected RequestDisconnect last, got %#v", actions)
	}
	if !errors.Is(last.Reason, ErrServiceNotFound) {
		t.Errorf("Expected ErrServiceNotFound reason, got %v", last.Reason)
	}
	if !h.s.Halted() {
		t.Error("Expected session to be halted")
	}

	// No further traffic while halted
	if actions := h.handle(DescriptorWritten{Characteristic: FileDataNotify}); len(actions) != 0 {
		t.Errorf("Expected no actions while halted, got %#v", actions)
	}
}

func TestSessionSubscriptionFailure(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{})
	h.handle(Connected{Address: "dev"})
	h.handle(ServicesDiscovered{Surface: fullSurface()})

	actions := h.handle(DescriptorWritten{Characteristic: FileDataNotify, Err: errors.New("status 133")})
	if !hasNotice(actions, NoticeUnsupportedDevice) {
		t.Fatal("Expected unsupported_device after failed descriptor write")
	}
	var sawDisconnect bool
	for _, a := range actions {
		if rd, ok := a.(RequestDisconnect); ok {
			sawDisconnect = true
			var subErr *SubscriptionFailedError
			if !errors.As(rd.Reason, &subErr) || subErr.Step != FileDataNotify {
				t.Errorf("Expected SubscriptionFailed(FileDataNotify), got %v", rd.Reason)
			}
		}
	}
	if !sawDisconnect {
		t.Error("Expected RequestDisconnect")
	}
}

func TestSessionCommandWriteFailure(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{})
	h.handshake()

	actions := h.handle(CommandWriteFailed{
		Command: CommandGetFilesystemInfo,
		Err:     ErrCharacteristicNotFound,
	})
	if !hasNotice(actions, NoticeUnsupportedDevice) || !hasNotice(actions, NoticeTransferAborted) {
		t.Fatalf("Expected transfer_aborted and unsupported_device, got %+v", noticesOf(actions))
	}

	h2 := newSessionHarness(t, SessionConfig{})
	h2.handshake()
	actions = h2.handle(CommandWriteFailed{Command: CommandGetFilesystemInfo, Err: errors.New("busy")})
	if hasNotice(actions, NoticeUnsupportedDevice) {
		t.Error("Transient write failure must not classify as unsupported device")
	}
	if !hasNotice(actions, NoticeTransferAborted) {
		t.Error("Expected transfer_aborted")
	}
}

func TestSessionLinkLostThenReconnect(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{SettleDelay: time.Second})
	settle := settleOf(t, h.handshake())
	h.handle(SettleElapsed{Generation: settle.Generation})

	h.handle(NotificationReceived{Characteristic: FilesystemInfoNotify, Value: length(1)})
	h.handle(NotificationReceived{Characteristic: FileInfoNotify, Value: length(10)})
	for i := 0; i < 4; i++ {
		h.handle(NotificationReceived{Characteristic: FileDataNotify, Value: []byte{byte(i)}})
	}
	if p := h.s.Progress(); p.BytesReceived != 4 {
		t.Fatalf("Expected 4 bytes received, got %d", p.BytesReceived)
	}

	actions := h.handle(LinkLost{Err: errors.New("status 8")})
	if !hasNotice(actions, NoticeTransferAborted) || !hasNotice(actions, NoticeDisconnected) {
		t.Fatalf("Expected transfer_aborted and disconnected, got %+v", noticesOf(actions))
	}
	if hasNotice(actions, NoticeFileReceived) {
		t.Fatal("Partial file must not be reported as received")
	}
	if h.s.TransferState() != TransferIdle || h.s.SubscriptionState() != SubscriptionIdle {
		t.Fatalf("Expected everything Idle, got %s / %s", h.s.TransferState(), h.s.SubscriptionState())
	}
	if n := countRecordings(t, h.store); n != 0 {
		t.Errorf("Expected no recordings, got %d", n)
	}

	// The old settle timer is stale and data after the drop is ignored
	if a := h.handle(SettleElapsed{Generation: settle.Generation}); len(a) != 0 {
		t.Errorf("Expected stale settle to be ignored, got %#v", a)
	}

	// Reconnect restarts the handshake and the enumeration from zero
	settle2 := settleOf(t, h.handshake())
	if settle2.Generation == settle.Generation {
		t.Error("Expected a new settle generation after reconnect")
	}
	actions = h.handle(SettleElapsed{Generation: settle2.Generation})
	expectCommands(t, actions, CommandGetFilesystemInfo)
	if h.s.TransferState() != AwaitingFilesystemInfo {
		t.Errorf("Expected AwaitingFilesystemInfo, got %s", h.s.TransferState())
	}
}

func TestSessionReconnectWithoutLinkLost(t *testing.T) {
	h := newSessionHarness(t, SessionConfig{})
	h.handshake()

	h.handle(NotificationReceived{Characteristic: FilesystemInfoNotify, Value: length(2)})
	h.handle(NotificationReceived{Characteristic: FileInfoNotify, Value: length(10)})
	for i := 0; i < 4; i++ {
		h.handle(NotificationReceived{Characteristic: FileDataNotify, Value: []byte{byte(i)}})
	}
	if h.s.TransferState() != ReceivingFileData {
		t.Fatalf("Expected ReceivingFileData, got %s", h.s.TransferState())
	}

	actions := h.handle(Connected{Address: "AA:BB:CC:DD:EE:FF"})
	if !hasNotice(actions, NoticeTransferAborted) || !hasNotice(actions, NoticeConnected) {
		t.Fatalf("Expected transfer_aborted and connected, got %+v", noticesOf(actions))
	}
	if h.s.TransferState() != TransferIdle {
		t.Fatalf("Expected TransferIdle, got %s", h.s.TransferState())
	}

	actions = h.handshake()
	expectCommands(t, actions, CommandGetFilesystemInfo)
	if h.s.TransferState() != AwaitingFilesystemInfo {
		t.Errorf("Expected AwaitingFilesystemInfo, got %s", h.s.TransferState())
	}
	if n := countRecordings(t, h.store); n != 0 {
		t.Errorf("Expected no recordings, got %d", n)
	}
}

func TestSessionNoticesAreStamped(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newSessionHarness(t, SessionConfig{Now: func() time.Time { return at }})

	actions := h.handle(Connected{Address: "AA:BB"})
	notices := noticesOf(actions)
	if len(notices) != 1 {
		t.Fatalf("Expected 1 notice, got %d", len(notices))
	}
	if !notices[0].At.Equal(at) || notices[0].Address != "AA:BB" {
		t.Errorf("Expected notice stamped with %v and AA:BB, got %+v", at, notices[0])
	}
}

// Walks many random recorder behaviours and checks that a command is only ever
// sent once the response to the previous one has been consumed.
func TestSessionCommandExclusivity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		policy := ZeroSizeSkip
		if run%2 == 1 {
			policy = ZeroSizeAbort
		}
		h := newSessionHarness(t, SessionConfig{ZeroSizePolicy: policy})

		var outstanding Command
		check := func(actions []Action) {
			t.Helper()
			cmds := commandsOf(actions)
			if len(cmds) > 1 {
				t.Fatalf("run %d: more than one command in one reaction: %v", run, cmds)
			}
			if hasNotice(actions, NoticeFileReceived) && outstanding == CommandGetFile {
				outstanding = 0
			}
			if len(cmds) == 1 {
				if outstanding != 0 {
					t.Fatalf("run %d: sent %s while %s outstanding", run, cmds[0], outstanding)
				}
				outstanding = cmds[0]
			}
		}

		check(h.handshake())

		files := rng.Intn(4)
		if outstanding == CommandGetFilesystemInfo {
			outstanding = 0
		}
		check(h.handle(NotificationReceived{Characteristic: FilesystemInfoNotify, Value: length(uint32(files))}))

		for step := 0; step < 40 && h.s.TransferState() != TransferIdle; step++ {
			switch h.s.TransferState() {
			case AwaitingFileInfo:
				size := uint32(rng.Intn(6))
				if outstanding == CommandGetFileInfo {
					outstanding = 0
				}
				check(h.handle(NotificationReceived{Characteristic: FileInfoNotify, Value: length(size)}))
			case ReceivingFileData:
				chunk := make([]byte, 1+rng.Intn(3))
				check(h.handle(NotificationReceived{Characteristic: FileDataNotify, Value: chunk}))
				// Stray notifications of the wrong kind must never trigger a command
				if rng.Intn(4) == 0 {
					check(h.handle(NotificationReceived{Characteristic: FilesystemInfoNotify, Value: length(9)}))
				}
			}
		}
		if h.s.TransferState() != TransferIdle {
			t.Fatalf("run %d: transfer did not finish, state %s", run, h.s.TransferState())
		}
	}
}

func TestNoticeTerminal(t *testing.T) {
	terminal := map[NoticeKind]bool{
		NoticeAllFilesReceived:  true,
		NoticeUnsupportedDevice: true,
		NoticeTransferAborted:   true,
		NoticeDisconnected:      true,
		NoticeConnected:         false,
		NoticeFileStarted:       false,
		NoticeFileReceived:      false,
		NoticeSubscriptionReady: false,
	}
	for kind, want := range terminal {
		if got := (Notice{Kind: kind}).Terminal(); got != want {
			t.Errorf("%s: expected terminal=%v, got %v", kind, want, got)
		}
	}
}
