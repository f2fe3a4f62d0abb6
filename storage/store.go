package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordingExt is the extension of every finished recording
const RecordingExt = ".wav"

// TranscriptionExt is the extension of the text file stored next to a recording
const TranscriptionExt = ".txt"

const partialSuffix = ".partial"

// ErrNotFound is returned when a recording does not exist
var ErrNotFound = errors.New("recording not found")

// Artifact is a finished, persisted recording
type Artifact struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store creates persisted files for incoming recordings
type Store interface {
	Begin(id uuid.UUID, declaredSize uint32) (Partial, error)
}

// Partial is a recording being written. It is either committed or discarded, never both.
type Partial interface {
	io.Writer
	Commit() (Artifact, error)
	Discard() error
}

// DirStore keeps recordings as plain files in one directory.
// In-progress files are hidden dotfiles and are renamed on commit.
type DirStore struct {
	dir string
	now func() time.Time
	mu  sync.Mutex // serializes name selection on commit
}

// NewDirStore creates the directory if needed
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings dir %s: %w", dir, err)
	}
	return &DirStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory the store writes into
func (d *DirStore) Dir() string {
	return d.dir
}

// Begin opens a hidden partial file for a new recording
func (d *DirStore) Begin(id uuid.UUID, declaredSize uint32) (Partial, error) {
	tmpPath := filepath.Join(d.dir, "."+id.String()+partialSuffix)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create partial file: %w", err)
	}
	return &dirPartial{store: d, id: id, file: f, tmpPath: tmpPath, declared: declaredSize}, nil
}

// recordingName follows the Android client's naming: Recording_yyyyMMdd_HHmmss.wav
func recordingName(t time.Time, n int) string {
	base := "Recording_" + t.Format("20060102_150405")
	if n > 0 {
		base = fmt.Sprintf("%s_%d", base, n)
	}
	return base + RecordingExt
}

// commit renames tmpPath to the first free recording name
func (d *DirStore) commit(tmpPath string) (string, string, time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for n := 0; ; n++ {
		name := recordingName(now, n)
		path := filepath.Join(d.dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", "", now, err
		}
		if err := os.Rename(tmpPath, path); err != nil {
			return "", "", now, err
		}
		return name, path, now, nil
	}
}

// List returns the finished recordings on disk, newest name first
func (d *DirStore) List() ([]Artifact, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}

	var out []Artifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, RecordingExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Name:      name,
			Path:      filepath.Join(d.dir, name),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// Remove deletes a recording and its transcription, if any
func (d *DirStore) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	path := filepath.Join(d.dir, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	os.Remove(transcriptionPath(path))
	return nil
}

// RemoveAll deletes every recording, transcription and leftover partial file
func (d *DirStore) RemoveAll() (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		isRecording := strings.HasSuffix(name, RecordingExt)
		if !isRecording && !strings.HasSuffix(name, TranscriptionExt) && !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil {
			return removed, err
		}
		if isRecording {
			removed++
		}
	}
	return removed, nil
}

// WriteTranscription stores text next to the recording as <name>.txt
func (d *DirStore) WriteTranscription(name, text string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	audio := filepath.Join(d.dir, name)
	if _, err := os.Stat(audio); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	path := transcriptionPath(audio)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadTranscription returns the stored text, or "" if none was stored
func (d *DirStore) ReadTranscription(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(transcriptionPath(filepath.Join(d.dir, name)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func transcriptionPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, RecordingExt) + TranscriptionExt
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid recording name %q", name)
	}
	return nil
}

type dirPartial struct {
	store    *DirStore
	id       uuid.UUID
	file     *os.File
	tmpPath  string
	declared uint32
	written  int64
	closed   bool
}

func (p *dirPartial) Write(b []byte) (int, error) {
	if p.closed {
		return 0, fmt.Errorf("partial %s already closed", p.id)
	}
	n, err := p.file.Write(b)
	p.written += int64(n)
	return n, err
}

func (p *dirPartial) Commit() (Artifact, error) {
	if p.closed {
		return Artifact{}, fmt.Errorf("partial %s already closed", p.id)
	}
	p.closed = true

	if err := p.file.Sync(); err != nil {
		p.file.Close()
		os.Remove(p.tmpPath)
		return Artifact{}, fmt.Errorf("failed to sync %s: %w", p.tmpPath, err)
	}
	if err := p.file.Close(); err != nil {
		os.Remove(p.tmpPath)
		return Artifact{}, fmt.Errorf("failed to close %s: %w", p.tmpPath, err)
	}

	name, path, at, err := p.store.commit(p.tmpPath)
	if err != nil {
		os.Remove(p.tmpPath)
		return Artifact{}, fmt.Errorf("failed to finalize recording: %w", err)
	}

	return Artifact{ID: p.id, Name: name, Path: path, Size: p.written, CreatedAt: at}, nil
}

func (p *dirPartial) Discard() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.file.Close()
	if err := os.Remove(p.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
