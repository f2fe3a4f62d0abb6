package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/wire/att"
	"github.com/user/dictofun-sync/wire/gatt"
	"github.com/user/dictofun-sync/wire/l2cap"
)

// ErrClosed is returned for operations on a closed connection
var ErrClosed = errors.New("wire: connection closed")

// Conn is one bidirectional link between two radios
type Conn struct {
	w       *Wire
	nc      net.Conn
	peer    string
	role    Role
	handler PacketHandler

	tracker *att.RequestTracker
	cccd    *gatt.CCCDManager
	sendMu  sync.Mutex

	mu         sync.RWMutex
	mtu        int
	localClose bool
	err        error
	done       chan struct{}
	closeOnce  sync.Once
}

func newConn(w *Wire, nc net.Conn, peer string, role Role) *Conn {
	return &Conn{
		w:       w,
		nc:      nc,
		peer:    peer,
		role:    role,
		tracker: att.NewRequestTracker(0),
		cccd:    gatt.NewCCCDManager(),
		mtu:     att.DefaultMTU,
		done:    make(chan struct{}),
	}
}

// Peer returns the remote device id
func (c *Conn) Peer() string { return c.peer }

// Role returns our role on this connection
func (c *Conn) Role() Role { return c.role }

// CCCD returns the subscriptions the peer holds on our attributes
func (c *Conn) CCCD() *gatt.CCCDManager { return c.cccd }

// Done is closed once the connection is gone
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended: nil for a local Close
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// MTU returns the negotiated ATT MTU
func (c *Conn) MTU() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mtu
}

func (c *Conn) setMTU(mtu int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mtu = mtu
}

func (c *Conn) tag() string {
	return logger.Tag(c.w.id, "Wire")
}

func (c *Conn) start() {
	go c.readLoop()
}

// Send encodes packet and writes it as one L2CAP frame on the ATT channel
func (c *Conn) Send(packet interface{}) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	payload, err := att.EncodePacket(packet)
	if err != nil {
		return err
	}
	frame := l2cap.NewATTPacket(payload).Encode()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.nc.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", att.OpcodeNames[payload[0]], shortID(c.peer), err)
	}
	logger.Trace(c.tag(), "📤 %s to %s (%d bytes)", att.OpcodeNames[payload[0]], shortID(c.peer), len(payload))
	return nil
}

// Request sends a request PDU and waits for its response. An Error Response
// comes back as *att.Error.
func (c *Conn) Request(ctx context.Context, packet interface{}, handle uint16) (interface{}, error) {
	responseC, err := c.tracker.StartRequest(att.Opcode(packet), handle)
	if err != nil {
		return nil, err
	}
	if err := c.Send(packet); err != nil {
		c.tracker.CancelPending(err)
		<-responseC
		return nil, err
	}

	select {
	case resp := <-responseC:
		return resp.Packet, resp.Error
	case <-ctx.Done():
		c.tracker.CancelPending(ctx.Err())
		return nil, ctx.Err()
	}
}

// ExchangeMTU negotiates the ATT MTU and returns the agreed value
func (c *Conn) ExchangeMTU(ctx context.Context, mtu int) (int, error) {
	resp, err := c.Request(ctx, &att.ExchangeMTURequest{ClientRxMTU: uint16(mtu)}, 0)
	if err != nil {
		return c.MTU(), err
	}
	server := int(resp.(*att.ExchangeMTUResponse).ServerRxMTU)
	agreed := mtu
	if server < agreed {
		agreed = server
	}
	if agreed < att.DefaultMTU {
		agreed = att.DefaultMTU
	}
	c.setMTU(agreed)
	logger.Debug(c.tag(), "📏 MTU with %s: %d", shortID(c.peer), agreed)
	return agreed, nil
}

// WriteRequest writes value to handle and waits for the Write Response
func (c *Conn) WriteRequest(ctx context.Context, handle uint16, value []byte) error {
	_, err := c.Request(ctx, &att.WriteRequest{Handle: handle, Value: value}, handle)
	return err
}

// WriteCommand writes value to handle without a response
func (c *Conn) WriteCommand(handle uint16, value []byte) error {
	if len(value) > c.MTU()-att.NotificationOverhead {
		return fmt.Errorf("write of %d bytes exceeds MTU %d", len(value), c.MTU())
	}
	return c.Send(&att.WriteCommand{Handle: handle, Value: value})
}

// Notify sends a Handle Value Notification; value must fit in MTU-3 bytes
func (c *Conn) Notify(handle uint16, value []byte) error {
	if len(value) > c.MTU()-att.NotificationOverhead {
		return fmt.Errorf("notification of %d bytes exceeds MTU %d", len(value), c.MTU())
	}
	return c.Send(&att.HandleValueNotification{Handle: handle, Value: value})
}

// Close tears the link down from our side
func (c *Conn) Close() error {
	c.mu.Lock()
	c.localClose = true
	c.mu.Unlock()
	return c.nc.Close()
}

func (c *Conn) readLoop() {
	for {
		frame, err := l2cap.ReadPacket(c.nc)
		if err != nil {
			c.finish(err)
			return
		}
		if frame.ChannelID != l2cap.ChannelATT {
			logger.Warn(c.tag(), "⚠️  Unsupported L2CAP channel 0x%04X from %s", frame.ChannelID, shortID(c.peer))
			continue
		}

		packet, err := att.DecodePacket(frame.Payload)
		if err != nil {
			logger.Warn(c.tag(), "❌ Failed to decode ATT packet from %s: %v", shortID(c.peer), err)
			continue
		}
		opcode := frame.Payload[0]
		logger.Trace(c.tag(), "📥 %s from %s", att.OpcodeNames[opcode], shortID(c.peer))

		if req, ok := packet.(*att.ExchangeMTURequest); ok {
			c.answerMTU(req)
			continue
		}
		if att.IsResponse(opcode) {
			if err := c.tracker.CompleteRequest(opcode, packet); err != nil {
				logger.Warn(c.tag(), "⚠️  %v", err)
			}
			continue
		}

		if c.handler != nil {
			c.handler(c, packet)
		} else if att.GetResponseOpcode(opcode) != 0 {
			c.Send(&att.ErrorResponse{RequestOpcode: opcode, ErrorCode: att.ErrRequestNotSupported})
		}
	}
}

func (c *Conn) answerMTU(req *att.ExchangeMTURequest) {
	agreed := int(req.ClientRxMTU)
	if c.w.maxMTU < agreed {
		agreed = c.w.maxMTU
	}
	if agreed < att.DefaultMTU {
		agreed = att.DefaultMTU
	}
	c.setMTU(agreed)
	if err := c.Send(&att.ExchangeMTUResponse{ServerRxMTU: uint16(c.w.maxMTU)}); err != nil {
		logger.Warn(c.tag(), "❌ Failed to answer MTU request: %v", err)
	}
}

func (c *Conn) finish(readErr error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if !c.localClose {
			c.err = fmt.Errorf("link to %s lost: %w", shortID(c.peer), readErr)
		}
		c.mu.Unlock()

		c.nc.Close()
		c.tracker.CancelPending(ErrClosed)
		c.cccd.Clear()
		c.w.unregister(c)
		close(c.done)

		logger.Info(c.tag(), "🔌 Disconnected from %s", shortID(c.peer))
	})
}
