package storage

import (
	"errors"
	"fmt"

	"github.com/user/dictofun-sync/logger"
	"github.com/user/dictofun-sync/util"
)

// Library ties the recordings directory to its index
type Library struct {
	Store *DirStore
	Index *Index
}

// OpenLibrary opens <dataDir>/recordings and <dataDir>/recordings.db
func OpenLibrary(dataDir string) (*Library, error) {
	dir, err := util.GetRecordingsDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare recordings dir: %w", err)
	}
	store, err := NewDirStore(dir)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(util.GetIndexPath(dataDir))
	if err != nil {
		return nil, err
	}
	return &Library{Store: store, Index: index}, nil
}

// Close closes the index
func (l *Library) Close() error {
	return l.Index.Close()
}

// NewSink returns a sink that writes into the library and indexes completed files
func (l *Library) NewSink() *Sink {
	return NewSink(l.Store, l.Index)
}

// List returns indexed recordings. Files present on disk but missing from the
// index (copied in by hand, or index lost) are indexed on the way.
func (l *Library) List() ([]Recording, error) {
	onDisk, err := l.Store.List()
	if err != nil {
		return nil, err
	}
	for _, a := range onDisk {
		if _, err := l.Index.Get(a.Name); errors.Is(err, ErrNotFound) {
			if err := l.Index.Add(a); err != nil {
				logger.Warn("Library", "⚠️  Failed to index %s: %v", a.Name, err)
			}
		}
	}
	return l.Index.List()
}

// SetTranscription stores text in the index and as <name>.txt
func (l *Library) SetTranscription(name, text string) error {
	if _, err := l.Store.WriteTranscription(name, text); err != nil {
		return err
	}
	return l.Index.StoreTranscription(name, text)
}

// Transcription returns the stored text for a recording
func (l *Library) Transcription(name string) (string, error) {
	rec, err := l.Index.Get(name)
	if err == nil && rec.Transcription != "" {
		return rec.Transcription, nil
	}
	return l.Store.ReadTranscription(name)
}

// EraseAll deletes every recording from disk and the index
func (l *Library) EraseAll() (int, error) {
	removed, err := l.Store.RemoveAll()
	if err != nil {
		return removed, err
	}
	if _, err := l.Index.EraseAll(); err != nil {
		return removed, err
	}
	logger.Info("Library", "🗑️  Erased %d recordings", removed)
	return removed, nil
}
