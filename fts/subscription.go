package fts

import "fmt"

// SubscriptionOrder is the order the recorder arms its notifications in.
// Each step may only be requested once the previous one is confirmed.
var SubscriptionOrder = []Characteristic{FileDataNotify, FilesystemInfoNotify, FileInfoNotify}

// StepState is the state of one subscription step
type StepState int

const (
	StepPending StepState = iota
	StepRequested
	StepConfirmed
	StepFailed
)

func (s StepState) String() string {
	switch s {
	case StepPending:
		return "Pending"
	case StepRequested:
		return "Requested"
	case StepConfirmed:
		return "Confirmed"
	case StepFailed:
		return "Failed"
	default:
		return fmt.Sprintf("StepState(%d)", int(s))
	}
}

// SequencerState summarizes the sequencer
type SequencerState int

const (
	SubscriptionIdle SequencerState = iota
	TxRequested
	FsInfoRequested
	FileInfoRequested
	SubscriptionReady
	SubscriptionFailed
)

func (s SequencerState) String() string {
	switch s {
	case SubscriptionIdle:
		return "Idle"
	case TxRequested:
		return "TxRequested"
	case FsInfoRequested:
		return "FsInfoRequested"
	case FileInfoRequested:
		return "FileInfoRequested"
	case SubscriptionReady:
		return "Ready"
	case SubscriptionFailed:
		return "Failed"
	default:
		return fmt.Sprintf("SequencerState(%d)", int(s))
	}
}

// Sequencer enables notifications in SubscriptionOrder, one confirmed step at a time
type Sequencer struct {
	steps []StepState
}

// NewSequencer returns an idle sequencer
func NewSequencer() *Sequencer {
	return &Sequencer{steps: make([]StepState, len(SubscriptionOrder))}
}

// Begin checks the discovered surface and requests the first step.
// A missing service or characteristic is returned as is; callers classify it
// with IsUnsupportedDevice.
func (s *Sequencer) Begin(surface Surface) (Characteristic, error) {
	if st := s.State(); st != SubscriptionIdle {
		return 0, fmt.Errorf("subscription sequence already in state %s", st)
	}
	if err := surface.Check(); err != nil {
		return 0, err
	}
	s.steps[0] = StepRequested
	return SubscriptionOrder[0], nil
}

// Confirm advances exactly one step. It returns the next characteristic to
// enable, or ready once the last step is confirmed. A confirmation for anything
// but the requested step is rejected with ErrOutOfOrderConfirmation and leaves
// the sequencer untouched.
func (s *Sequencer) Confirm(c Characteristic) (next Characteristic, ready bool, err error) {
	idx := s.requested()
	if idx < 0 || SubscriptionOrder[idx] != c {
		return 0, false, fmt.Errorf("%w: got %s while %s", ErrOutOfOrderConfirmation, c, s.State())
	}

	s.steps[idx] = StepConfirmed
	if idx+1 == len(SubscriptionOrder) {
		return 0, true, nil
	}
	s.steps[idx+1] = StepRequested
	return SubscriptionOrder[idx+1], false, nil
}

// Fail marks the requested step failed. The sequence cannot recover; Reset is required.
func (s *Sequencer) Fail(c Characteristic, cause error) error {
	idx := s.requested()
	if idx < 0 || SubscriptionOrder[idx] != c {
		return fmt.Errorf("%w: failure for %s while %s", ErrOutOfOrderConfirmation, c, s.State())
	}
	s.steps[idx] = StepFailed
	return &SubscriptionFailedError{Step: c, Err: cause}
}

// Reset returns every step to Pending
func (s *Sequencer) Reset() {
	for i := range s.steps {
		s.steps[i] = StepPending
	}
}

// Ready reports whether every step is confirmed
func (s *Sequencer) Ready() bool {
	return s.State() == SubscriptionReady
}

// Step returns the state of the step for c
func (s *Sequencer) Step(c Characteristic) StepState {
	for i, sc := range SubscriptionOrder {
		if sc == c {
			return s.steps[i]
		}
	}
	return StepPending
}

// State summarizes the step states
func (s *Sequencer) State() SequencerState {
	for i, st := range s.steps {
		switch st {
		case StepFailed:
			return SubscriptionFailed
		case StepRequested:
			return []SequencerState{TxRequested, FsInfoRequested, FileInfoRequested}[i]
		case StepPending:
			return SubscriptionIdle
		}
	}
	return SubscriptionReady
}

func (s *Sequencer) requested() int {
	for i, st := range s.steps {
		if st == StepRequested {
			return i
		}
	}
	return -1
}
