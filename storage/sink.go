package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/user/dictofun-sync/logger"
)

var (
	// ErrSessionAlreadyActive is returned by BeginFile while another file is open
	ErrSessionAlreadyActive = errors.New("file reception already active")

	// ErrOverrunChunk is returned for data arriving after the declared size was reached
	ErrOverrunChunk = errors.New("chunk past declared size")

	// ErrUnknownHandle is returned for a handle the sink never issued or already forgot
	ErrUnknownHandle = errors.New("unknown file handle")

	// ErrZeroSize is returned by BeginFile for an empty declared size
	ErrZeroSize = errors.New("declared size must be nonzero")
)

// FileHandle identifies one file reception
type FileHandle struct {
	ID           uuid.UUID
	DeclaredSize uint32
}

// Completion is returned exactly once per file, when the last declared byte is written
type Completion struct {
	Handle   FileHandle
	Artifact Artifact
	Dropped  int // bytes past the declared size in the final chunk
}

// Catalog records finished artifacts. *Index implements it.
type Catalog interface {
	Add(a Artifact) error
}

type reception struct {
	handle  FileHandle
	partial Partial
	written uint32
}

// Sink reassembles notification chunks into recordings.
// It holds at most one open reception and keeps bytes written <= declared size.
type Sink struct {
	mu      sync.Mutex
	store   Store
	catalog Catalog
	active  *reception
	last    *FileHandle // most recently completed, for overrun detection
}

// NewSink creates a sink writing into store. catalog may be nil.
func NewSink(store Store, catalog Catalog) *Sink {
	return &Sink{store: store, catalog: catalog}
}

// BeginFile opens a reception for a file of declaredSize bytes
func (s *Sink) BeginFile(declaredSize uint32) (FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return FileHandle{}, fmt.Errorf("%w: %s has %d/%d bytes",
			ErrSessionAlreadyActive, s.active.handle.ID, s.active.written, s.active.handle.DeclaredSize)
	}
	if declaredSize == 0 {
		return FileHandle{}, ErrZeroSize
	}

	handle := FileHandle{ID: uuid.New(), DeclaredSize: declaredSize}
	partial, err := s.store.Begin(handle.ID, declaredSize)
	if err != nil {
		return FileHandle{}, err
	}

	s.active = &reception{handle: handle, partial: partial}
	logger.Debug("Sink", "📂 Opened %s for %d bytes", handle.ID.String()[:8], declaredSize)
	return handle, nil
}

// AppendChunk writes data into the open reception. It returns a Completion when
// the declared size is reached. Bytes beyond the declared size are never written.
func (s *Sink) AppendChunk(h FileHandle, data []byte) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.handle.ID != h.ID {
		if s.last != nil && s.last.ID == h.ID {
			return nil, fmt.Errorf("%w: %s already holds %d bytes", ErrOverrunChunk, h.ID, h.DeclaredSize)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
	}
	if len(data) == 0 {
		return nil, nil
	}

	r := s.active
	left := r.handle.DeclaredSize - r.written
	chunk := data
	dropped := 0
	if uint64(len(chunk)) > uint64(left) {
		dropped = len(chunk) - int(left)
		chunk = chunk[:left]
	}

	if _, err := r.partial.Write(chunk); err != nil {
		if derr := r.partial.Discard(); derr != nil {
			logger.Warn("Sink", "⚠️  Failed to discard partial %s: %v", r.handle.ID, derr)
		}
		s.active = nil
		return nil, fmt.Errorf("failed to write chunk: %w", err)
	}
	r.written += uint32(len(chunk))
	logger.Trace("Sink", "📥 %d/%d bytes", r.written, r.handle.DeclaredSize)

	if r.written < r.handle.DeclaredSize {
		return nil, nil
	}

	s.active = nil
	handle := r.handle
	s.last = &handle

	artifact, err := r.partial.Commit()
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		logger.Warn("Sink", "⚠️  Dropped %d bytes past declared size of %s", dropped, artifact.Name)
	}
	if s.catalog != nil {
		if err := s.catalog.Add(artifact); err != nil {
			logger.Warn("Sink", "⚠️  Failed to index %s: %v", artifact.Name, err)
		}
	}

	logger.Info("Sink", "✅ Completed %s (%d bytes)", artifact.Name, artifact.Size)
	return &Completion{Handle: handle, Artifact: artifact, Dropped: dropped}, nil
}

// Reset discards the open reception, if any. No partial file survives.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		if err := s.active.partial.Discard(); err != nil {
			logger.Warn("Sink", "⚠️  Failed to discard partial %s: %v", s.active.handle.ID, err)
		}
		logger.Info("Sink", "🗑️  Discarded partial file at %d/%d bytes", s.active.written, s.active.handle.DeclaredSize)
		s.active = nil
	}
	s.last = nil
}

// Written reports the bytes written into the open reception
func (s *Sink) Written() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return 0, false
	}
	return s.active.written, true
}
