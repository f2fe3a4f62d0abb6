package fts

import (
	"errors"
	"testing"
)

func TestSequencerOrder(t *testing.T) {
	seq := NewSequencer()

	first, err := seq.Begin(fullSurface())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if first != FileDataNotify {
		t.Fatalf("Expected TX first, got %s", first)
	}
	if seq.State() != TxRequested {
		t.Errorf("Expected TxRequested, got %s", seq.State())
	}

	next, ready, err := seq.Confirm(FileDataNotify)
	if err != nil || ready || next != FilesystemInfoNotify {
		t.Fatalf("Expected FilesystemInfoNotify next, got %s ready=%v err=%v", next, ready, err)
	}
	if seq.State() != FsInfoRequested {
		t.Errorf("Expected FsInfoRequested, got %s", seq.State())
	}

	next, ready, err = seq.Confirm(FilesystemInfoNotify)
	if err != nil || ready || next != FileInfoNotify {
		t.Fatalf("Expected FileInfoNotify next, got %s ready=%v err=%v", next, ready, err)
	}

	_, ready, err = seq.Confirm(FileInfoNotify)
	if err != nil || !ready {
		t.Fatalf("Expected ready, got ready=%v err=%v", ready, err)
	}
	if !seq.Ready() {
		t.Errorf("Expected Ready, got %s", seq.State())
	}
}

func TestSequencerRejectsOutOfOrder(t *testing.T) {
	seq := NewSequencer()

	// Nothing requested yet
	if _, _, err := seq.Confirm(FileDataNotify); !errors.Is(err, ErrOutOfOrderConfirmation) {
		t.Fatalf("Expected ErrOutOfOrderConfirmation before Begin, got %v", err)
	}

	seq.Begin(fullSurface())

	// FileInfo confirmation while TX is pending
	if _, _, err := seq.Confirm(FileInfoNotify); !errors.Is(err, ErrOutOfOrderConfirmation) {
		t.Fatalf("Expected ErrOutOfOrderConfirmation, got %v", err)
	}
	if seq.State() != TxRequested {
		t.Errorf("Expected state to stay TxRequested, got %s", seq.State())
	}
	if seq.Step(FileInfoNotify) != StepPending {
		t.Errorf("Expected FileInfo step Pending, got %s", seq.Step(FileInfoNotify))
	}

	// Duplicate confirmation of an already confirmed step
	seq.Confirm(FileDataNotify)
	if _, _, err := seq.Confirm(FileDataNotify); !errors.Is(err, ErrOutOfOrderConfirmation) {
		t.Errorf("Expected duplicate confirmation to be rejected, got %v", err)
	}
	if seq.State() != FsInfoRequested {
		t.Errorf("Expected FsInfoRequested, got %s", seq.State())
	}
}

func TestSequencerFailure(t *testing.T) {
	seq := NewSequencer()
	seq.Begin(fullSurface())
	seq.Confirm(FileDataNotify)

	cause := errors.New("gatt error 133")
	err := seq.Fail(FilesystemInfoNotify, cause)

	var subErr *SubscriptionFailedError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected SubscriptionFailedError, got %v", err)
	}
	if subErr.Step != FilesystemInfoNotify {
		t.Errorf("Expected failed step FilesystemInfoNotify, got %s", subErr.Step)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected failure to wrap the cause")
	}
	if !IsUnsupportedDevice(err) {
		t.Error("Expected subscription failure to classify as unsupported device")
	}
	if seq.State() != SubscriptionFailed {
		t.Errorf("Expected Failed, got %s", seq.State())
	}
	if _, _, err := seq.Confirm(FilesystemInfoNotify); err == nil {
		t.Error("Expected confirmation after failure to be rejected")
	}

	seq.Reset()
	if seq.State() != SubscriptionIdle {
		t.Errorf("Expected Idle after Reset, got %s", seq.State())
	}
}

func TestSequencerBeginChecksSurface(t *testing.T) {
	seq := NewSequencer()
	if _, err := seq.Begin(Surface{}); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("Expected ErrServiceNotFound, got %v", err)
	}
	if seq.State() != SubscriptionIdle {
		t.Errorf("Expected Idle after failed Begin, got %s", seq.State())
	}

	seq.Begin(fullSurface())
	if _, err := seq.Begin(fullSurface()); err == nil {
		t.Error("Expected second Begin to fail")
	}
}
