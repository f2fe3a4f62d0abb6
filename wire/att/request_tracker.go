package att

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout is the ATT transaction timeout
const DefaultTimeout = 30 * time.Second

// RequestTracker enforces one outstanding ATT request per connection and
// matches the response to it.
type RequestTracker struct {
	mu             sync.Mutex
	pending        *PendingRequest
	defaultTimeout time.Duration
}

// PendingRequest is the single outstanding request
type PendingRequest struct {
	Opcode    uint8
	Handle    uint16
	SentAt    time.Time
	responseC chan Response
	timer     *time.Timer
}

// Response is the outcome of a request: a decoded response PDU or an error
type Response struct {
	Packet interface{}
	Error  error
}

// NewRequestTracker creates a tracker; zero timeout means DefaultTimeout
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &RequestTracker{defaultTimeout: timeout}
}

// StartRequest registers a request and returns the channel its response arrives on
func (rt *RequestTracker) StartRequest(opcode uint8, handle uint16) (<-chan Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending != nil {
		return nil, fmt.Errorf("ATT request already pending (opcode 0x%02X on handle 0x%04X)",
			rt.pending.Opcode, rt.pending.Handle)
	}

	req := &PendingRequest{
		Opcode:    opcode,
		Handle:    handle,
		SentAt:    time.Now(),
		responseC: make(chan Response, 1),
	}
	req.timer = time.AfterFunc(rt.defaultTimeout, func() {
		rt.finish(req, Response{
			Error: fmt.Errorf("ATT request timeout: opcode 0x%02X, handle 0x%04X", opcode, handle),
		})
	})
	rt.pending = req
	return req.responseC, nil
}

// CompleteRequest delivers a response PDU to the pending request
func (rt *RequestTracker) CompleteRequest(responseOpcode uint8, packet interface{}) error {
	rt.mu.Lock()
	req := rt.pending
	rt.mu.Unlock()

	if req == nil {
		return fmt.Errorf("no pending ATT request for response opcode 0x%02X", responseOpcode)
	}

	expected := GetResponseOpcode(req.Opcode)
	if responseOpcode != expected && responseOpcode != OpErrorResponse {
		return fmt.Errorf("unexpected response opcode 0x%02X for request 0x%02X (expected 0x%02X)",
			responseOpcode, req.Opcode, expected)
	}

	resp := Response{Packet: packet}
	if e, ok := packet.(*ErrorResponse); ok {
		resp.Error = AsError(e)
	}
	rt.finish(req, resp)
	return nil
}

// CancelPending fails any pending request with err
func (rt *RequestTracker) CancelPending(err error) {
	rt.mu.Lock()
	req := rt.pending
	rt.mu.Unlock()

	if req != nil {
		rt.finish(req, Response{Error: err})
	}
}

// HasPending reports whether a request is outstanding
func (rt *RequestTracker) HasPending() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending != nil
}

func (rt *RequestTracker) finish(req *PendingRequest, resp Response) {
	rt.mu.Lock()
	if rt.pending != req {
		rt.mu.Unlock()
		return
	}
	rt.pending = nil
	rt.mu.Unlock()

	req.timer.Stop()
	req.responseC <- resp
	close(req.responseC)
}
