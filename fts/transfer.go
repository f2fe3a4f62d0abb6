package fts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/storage"
)

// TransferState is the state of the command protocol
type TransferState int

const (
	TransferIdle TransferState = iota
	AwaitingFilesystemInfo
	AwaitingFileInfo
	ReceivingFileData
)

func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "Idle"
	case AwaitingFilesystemInfo:
		return "AwaitingFilesystemInfo"
	case AwaitingFileInfo:
		return "AwaitingFileInfo"
	case ReceivingFileData:
		return "ReceivingFileData"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

// ZeroSizePolicy decides what a file-info response of size 0 does to the session
type ZeroSizePolicy int

const (
	// ZeroSizeSkip decrements the remaining count and moves on
	ZeroSizeSkip ZeroSizePolicy = iota
	// ZeroSizeAbort decrements the remaining count and abandons the session
	ZeroSizeAbort
)

func (p ZeroSizePolicy) String() string {
	if p == ZeroSizeAbort {
		return "abort"
	}
	return "skip"
}

// ParseZeroSizePolicy accepts "skip" and "abort"
func ParseZeroSizePolicy(s string) (ZeroSizePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return ZeroSizeSkip, nil
	case "abort":
		return ZeroSizeAbort, nil
	default:
		return ZeroSizeSkip, fmt.Errorf("unknown zero size policy %q", s)
	}
}

// Sink is the reassembly sink file data is pushed into. *storage.Sink implements it.
type Sink interface {
	BeginFile(declaredSize uint32) (storage.FileHandle, error)
	AppendChunk(h storage.FileHandle, data []byte) (*storage.Completion, error)
	Reset()
}

// Progress is a snapshot of the transfer for logs and the CLI
type Progress struct {
	State          string   `json:"state"`
	Subscription   string   `json:"subscription,omitempty"`
	FilesAnnounced uint32   `json:"files_announced"`
	FilesRemaining uint32   `json:"files_remaining"`
	DeclaredSize   uint32   `json:"declared_size,omitempty"`
	BytesReceived  uint32   `json:"bytes_received,omitempty"`
	BytesLeft      uint32   `json:"bytes_left,omitempty"`
	InFlight       string   `json:"in_flight,omitempty"`
	Completed      []string `json:"completed,omitempty"`
}

type fileReception struct {
	handle   storage.FileHandle
	declared uint32
	left     uint32
}

// Transfer walks filesystem info -> file info -> file data for every announced file.
// It never has more than one command outstanding: a command is only sent from the
// transition that consumed the response to the previous one.
type Transfer struct {
	state     TransferState
	policy    ZeroSizePolicy
	sink      Sink
	announced uint32
	remaining uint32
	file      *fileReception
	last      *storage.FileHandle
	inFlight  Command
	completed []string
	prefix    string
}

// NewTransfer creates an idle transfer writing into sink
func NewTransfer(sink Sink, policy ZeroSizePolicy) *Transfer {
	return &Transfer{sink: sink, policy: policy, prefix: "Transfer"}
}

// State returns the current protocol state
func (t *Transfer) State() TransferState {
	return t.state
}

// Active reports whether a session is in progress
func (t *Transfer) Active() bool {
	return t.state != TransferIdle
}

// Start begins a filesystem enumeration pass
func (t *Transfer) Start() ([]Action, error) {
	if t.state != TransferIdle {
		return nil, fmt.Errorf("%w: state %s", ErrTransferActive, t.state)
	}
	t.announced = 0
	t.remaining = 0
	t.completed = nil
	t.last = nil
	t.state = AwaitingFilesystemInfo
	return t.send(CommandGetFilesystemInfo)
}

// OnFilesystemInfo handles the file count notification
func (t *Transfer) OnFilesystemInfo(payload []byte) ([]Action, error) {
	if t.state != AwaitingFilesystemInfo {
		return nil, fmt.Errorf("%w: filesystem info in state %s", ErrUnexpectedNotification, t.state)
	}
	t.inFlight = 0

	count, err := DecodeLength(payload)
	if err != nil {
		return t.Abort(err), nil
	}
	t.announced = count
	t.remaining = count
	logger.Info(t.prefix, "📁 Recorder has %d file(s)", count)

	if count == 0 {
		t.state = TransferIdle
		return []Action{publish(Notice{Kind: NoticeAllFilesReceived, Count: 0})}, nil
	}
	t.state = AwaitingFileInfo
	return t.send(CommandGetFileInfo)
}

// OnFileInfo handles the size notification for the next file
func (t *Transfer) OnFileInfo(payload []byte) ([]Action, error) {
	if t.state != AwaitingFileInfo {
		return nil, fmt.Errorf("%w: file info in state %s", ErrUnexpectedNotification, t.state)
	}
	t.inFlight = 0

	size, err := DecodeLength(payload)
	if err != nil {
		return t.Abort(err), nil
	}

	if size == 0 {
		t.decrement()
		logger.Warn(t.prefix, "⚠️  File info reported size 0 (%d file(s) left, policy %s)", t.remaining, t.policy)
		if t.policy == ZeroSizeAbort {
			return t.Abort(ErrZeroFileSize), nil
		}
		return t.next()
	}

	handle, err := t.sink.BeginFile(size)
	if err != nil {
		return t.Abort(err), nil
	}
	t.file = &fileReception{handle: handle, declared: size, left: size}
	t.state = ReceivingFileData
	logger.Info(t.prefix, "📥 Receiving file %d/%d (%d bytes)", t.announced-t.remaining+1, t.announced, size)

	actions := []Action{publish(Notice{Kind: NoticeFileStarted, Size: size})}
	sent, err := t.send(CommandGetFile)
	return append(actions, sent...), err
}

// OnFileData pushes one data notification into the sink
func (t *Transfer) OnFileData(payload []byte) ([]Action, error) {
	if t.state != ReceivingFileData {
		// Late duplicate of the file just completed: let the sink report the overrun
		if t.last != nil {
			_, err := t.sink.AppendChunk(*t.last, payload)
			if err == nil {
				err = storage.ErrOverrunChunk
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d data bytes in state %s", ErrUnexpectedNotification, len(payload), t.state)
	}

	done, err := t.sink.AppendChunk(t.file.handle, payload)
	if err != nil {
		if errors.Is(err, storage.ErrOverrunChunk) {
			return nil, err
		}
		return t.Abort(err), nil
	}

	n := uint32(len(payload))
	if n > t.file.left {
		n = t.file.left
	}
	t.file.left -= n
	if done == nil {
		return nil, nil
	}

	t.inFlight = 0
	handle := t.file.handle
	t.last = &handle
	t.file = nil
	t.decrement()
	t.completed = append(t.completed, done.Artifact.Name)

	actions := []Action{publish(Notice{
		Kind: NoticeFileReceived,
		Name: done.Artifact.Name,
		Path: done.Artifact.Path,
		Size: uint32(done.Artifact.Size),
	})}
	next, err := t.next()
	return append(actions, next...), err
}

// OnLinkLost discards any partial file and returns to Idle. Nothing is resumed.
func (t *Transfer) OnLinkLost(cause error) []Action {
	if !t.Active() {
		t.reset()
		return nil
	}
	if cause == nil {
		cause = ErrLinkLost
	}
	return t.Abort(cause)
}

// Abort abandons the session and reports why
func (t *Transfer) Abort(cause error) []Action {
	wasActive := t.Active()
	t.reset()
	if !wasActive {
		return nil
	}
	logger.Error(t.prefix, "❌ Transfer aborted: %v", cause)
	return []Action{publish(Notice{Kind: NoticeTransferAborted, Reason: reason(cause)})}
}

// Completed returns the names received during the current or last pass
func (t *Transfer) Completed() []string {
	return append([]string(nil), t.completed...)
}

// Progress returns a snapshot of the transfer
func (t *Transfer) Progress() Progress {
	p := Progress{
		State:          t.state.String(),
		FilesAnnounced: t.announced,
		FilesRemaining: t.remaining,
		Completed:      t.Completed(),
	}
	if t.inFlight != 0 {
		p.InFlight = t.inFlight.String()
	}
	if t.file != nil {
		p.DeclaredSize = t.file.declared
		p.BytesLeft = t.file.left
		p.BytesReceived = t.file.declared - t.file.left
	}
	return p
}

// next requests the next file-info, or finishes the pass
func (t *Transfer) next() ([]Action, error) {
	if t.remaining == 0 {
		t.state = TransferIdle
		logger.Info(t.prefix, "✅ All files received (%d completed)", len(t.completed))
		return []Action{publish(Notice{Kind: NoticeAllFilesReceived, Count: len(t.completed)})}, nil
	}
	t.state = AwaitingFileInfo
	return t.send(CommandGetFileInfo)
}

func (t *Transfer) send(c Command) ([]Action, error) {
	if t.inFlight != 0 {
		return nil, fmt.Errorf("%w: %s outstanding, refusing %s", ErrCommandInFlight, t.inFlight, c)
	}
	t.inFlight = c
	logger.Debug(t.prefix, "📤 %s", c)
	return []Action{SendCommand{Command: c}}, nil
}

func (t *Transfer) decrement() {
	if t.remaining > 0 {
		t.remaining--
	}
}

func (t *Transfer) reset() {
	t.sink.Reset()
	t.state = TransferIdle
	t.remaining = 0
	t.file = nil
	t.last = nil
	t.inFlight = 0
}
