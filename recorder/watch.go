package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/user/dictofun-sync/logger"
)

// DirWatcher feeds files dropped into a directory to a recorder, as if they
// had just been recorded
type DirWatcher struct {
	rec   *Recorder
	dir   string
	quiet time.Duration
	w     *fsnotify.Watcher
}

// WatchDir starts watching dir. A file is added once it has not been written
// to for quiet.
func WatchDir(r *Recorder, dir string, quiet time.Duration) (*DirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	if quiet <= 0 {
		quiet = 200 * time.Millisecond
	}
	return &DirWatcher{rec: r, dir: dir, quiet: quiet, w: w}, nil
}

// Run processes filesystem events until ctx is done
func (d *DirWatcher) Run(ctx context.Context) error {
	defer d.w.Close()

	pending := make(map[string]time.Time)
	tick := time.NewTicker(d.quiet / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-d.w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[ev.Name] = time.Now()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, ev.Name)
			}

		case err, ok := <-d.w.Errors:
			if !ok {
				return nil
			}
			logger.Warn(d.rec.tag(), "⚠️  Watch %s: %v", d.dir, err)

		case now := <-tick.C:
			for name, last := range pending {
				if now.Sub(last) < d.quiet {
					continue
				}
				delete(pending, name)
				d.load(name)
			}
		}
	}
}

func (d *DirWatcher) load(name string) {
	info, err := os.Stat(name)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(name)
	if err != nil {
		logger.Warn(d.rec.tag(), "⚠️  Read %s: %v", name, err)
		return
	}
	d.rec.AddFile(data)
	logger.Info(d.rec.tag(), "🎙️  New recording %s: %d bytes, crc32=%08x", filepath.Base(name), len(data), Checksum(data))
}
