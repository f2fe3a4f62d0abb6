package fts

import (
	"fmt"
	"time"
)

// Event is one input to Session.Handle. Events are processed strictly in arrival order.
type Event interface {
	isEvent()
}

// Connected is raised once the link is up
type Connected struct {
	Address string
}

// ServicesDiscovered carries the GATT surface found on the peer
type ServicesDiscovered struct {
	Surface Surface
}

// DescriptorWritten confirms (Err == nil) or fails a CCCD write
type DescriptorWritten struct {
	Characteristic Characteristic
	Err            error
}

// NotificationReceived carries one notification payload
type NotificationReceived struct {
	Characteristic Characteristic
	Value          []byte
}

// CommandWriteFailed is raised when writing a command to CommandOut fails
type CommandWriteFailed struct {
	Command Command
	Err     error
}

// SettleElapsed is posted by the settle timer armed by a ScheduleSettle action
type SettleElapsed struct {
	Generation uint64
}

// LinkLost is raised when the connection ends, requested or not. Err is nil for a local disconnect.
type LinkLost struct {
	Err error
}

func (Connected) isEvent()            {}
func (ServicesDiscovered) isEvent()   {}
func (DescriptorWritten) isEvent()    {}
func (NotificationReceived) isEvent() {}
func (CommandWriteFailed) isEvent()   {}
func (SettleElapsed) isEvent()        {}
func (LinkLost) isEvent()             {}

// DescribeEvent renders an event for logs
func DescribeEvent(ev Event) string {
	switch e := ev.(type) {
	case Connected:
		return "Connected(" + e.Address + ")"
	case ServicesDiscovered:
		return fmt.Sprintf("ServicesDiscovered(service=%v)", e.Surface.ServicePresent)
	case DescriptorWritten:
		if e.Err != nil {
			return fmt.Sprintf("DescriptorWritten(%s, err=%v)", e.Characteristic, e.Err)
		}
		return fmt.Sprintf("DescriptorWritten(%s)", e.Characteristic)
	case NotificationReceived:
		return fmt.Sprintf("Notification(%s, %d bytes)", e.Characteristic, len(e.Value))
	case CommandWriteFailed:
		return fmt.Sprintf("CommandWriteFailed(%s, %v)", e.Command, e.Err)
	case SettleElapsed:
		return fmt.Sprintf("SettleElapsed(gen=%d)", e.Generation)
	case LinkLost:
		return fmt.Sprintf("LinkLost(%v)", e.Err)
	default:
		return fmt.Sprintf("%T", ev)
	}
}

// Action is one output of Session.Handle, executed in order by the connection manager
type Action interface {
	isAction()
}

// EnableNotification asks the transport to write the CCCD of a characteristic
type EnableNotification struct {
	Characteristic Characteristic
}

// SendCommand asks the transport to write a command (write without response)
type SendCommand struct {
	Command Command
}

// ScheduleSettle asks for a SettleElapsed event after Delay
type ScheduleSettle struct {
	Delay      time.Duration
	Generation uint64
}

// RequestDisconnect asks the transport to drop the link
type RequestDisconnect struct {
	Reason error
}

// Publish hands a notice to upward listeners
type Publish struct {
	Notice Notice
}

func (EnableNotification) isAction() {}
func (SendCommand) isAction()        {}
func (ScheduleSettle) isAction()     {}
func (RequestDisconnect) isAction()  {}
func (Publish) isAction()            {}

// NoticeKind names an upward event
type NoticeKind string

const (
	NoticeConnected         NoticeKind = "connected"
	NoticeDisconnected      NoticeKind = "disconnected"
	NoticeSubscriptionReady NoticeKind = "subscription_ready"
	NoticeFileStarted       NoticeKind = "file_started"
	NoticeFileReceived      NoticeKind = "file_received"
	NoticeAllFilesReceived  NoticeKind = "all_files_received"
	NoticeUnsupportedDevice NoticeKind = "unsupported_device"
	NoticeTransferAborted   NoticeKind = "transfer_aborted"
)

// Notice is an upward event for the UI, the websocket feed and the CLI
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Address string     `json:"address,omitempty"`
	Name    string     `json:"name,omitempty"`
	Path    string     `json:"path,omitempty"`
	Size    uint32     `json:"size,omitempty"`
	Count   int        `json:"count,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	At      time.Time  `json:"at"`
}

// Terminal reports whether the notice ends a pull
func (n Notice) Terminal() bool {
	switch n.Kind {
	case NoticeAllFilesReceived, NoticeUnsupportedDevice, NoticeTransferAborted, NoticeDisconnected:
		return true
	}
	return false
}

func publish(n Notice) Action {
	return Publish{Notice: n}
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
