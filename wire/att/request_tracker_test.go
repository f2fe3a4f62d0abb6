package att

import (
	"errors"
	"testing"
	"time"
)

func TestRequestTrackerOneOutstanding(t *testing.T) {
	rt := NewRequestTracker(time.Second)

	respC, err := rt.StartRequest(OpWriteRequest, 0x0010)
	if err != nil {
		t.Fatalf("StartRequest failed: %v", err)
	}
	if _, err := rt.StartRequest(OpWriteRequest, 0x0011); err == nil {
		t.Error("Expected second request to be rejected while one is pending")
	}

	if err := rt.CompleteRequest(OpWriteResponse, &WriteResponse{}); err != nil {
		t.Fatalf("CompleteRequest failed: %v", err)
	}
	resp := <-respC
	if resp.Error != nil {
		t.Errorf("Expected success, got %v", resp.Error)
	}
	if rt.HasPending() {
		t.Error("Expected no pending request after completion")
	}
}

func TestRequestTrackerRejectsMismatchedResponse(t *testing.T) {
	rt := NewRequestTracker(time.Second)
	rt.StartRequest(OpWriteRequest, 0x0010)

	if err := rt.CompleteRequest(OpExchangeMTUResponse, &ExchangeMTUResponse{}); err == nil {
		t.Error("Expected mismatched response to be rejected")
	}
	if !rt.HasPending() {
		t.Error("Expected request to stay pending")
	}
}

func TestRequestTrackerErrorResponse(t *testing.T) {
	rt := NewRequestTracker(time.Second)
	respC, _ := rt.StartRequest(OpWriteRequest, 0x0010)

	rt.CompleteRequest(OpErrorResponse, &ErrorResponse{RequestOpcode: OpWriteRequest, Handle: 0x0010, ErrorCode: ErrWriteNotPermitted})

	resp := <-respC
	var attErr *Error
	if !errors.As(resp.Error, &attErr) || attErr.Code != ErrWriteNotPermitted {
		t.Errorf("Expected Write Not Permitted, got %v", resp.Error)
	}
}

func TestRequestTrackerTimeout(t *testing.T) {
	rt := NewRequestTracker(20 * time.Millisecond)
	respC, _ := rt.StartRequest(OpExchangeMTURequest, 0)

	select {
	case resp := <-respC:
		if resp.Error == nil {
			t.Error("Expected timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("Request never timed out")
	}
	if rt.HasPending() {
		t.Error("Expected no pending request after timeout")
	}
}

func TestRequestTrackerCancel(t *testing.T) {
	rt := NewRequestTracker(time.Second)
	respC, _ := rt.StartRequest(OpWriteRequest, 0x0001)

	closed := errors.New("connection closed")
	rt.CancelPending(closed)

	if resp := <-respC; !errors.Is(resp.Error, closed) {
		t.Errorf("Expected %v, got %v", closed, resp.Error)
	}
}
