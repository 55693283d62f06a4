package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Handler receives events ingested from the spool directory.
type Handler func(ev models.Event)

// Spool watches a directory for event files and hands parsed events to a
// handler. Each event is one JSON document in a file named *.json; the file
// is removed after successful ingestion.
type Spool struct {
	dir     string
	handler Handler
	// settle is how long to wait after a write before reading the file,
	// so partially written documents are not parsed.
	settle time.Duration
}

// NewSpool creates a spool watcher over dir.
func NewSpool(dir string, handler Handler) *Spool {
	return &Spool{
		dir:     dir,
		handler: handler,
		settle:  100 * time.Millisecond,
	}
}

// Watch ingests pre-existing event files, then blocks processing new ones
// until the context is cancelled.
func (s *Spool) Watch(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	// Drain files that were already spooled before the watch started.
	if err := s.ingestExisting(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			time.Sleep(s.settle)
			s.ingestFile(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("spool watcher: %w", err)
		}
	}
}

// ingestExisting processes event files already present in the spool.
func (s *Spool) ingestExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s.ingestFile(filepath.Join(s.dir, entry.Name()))
	}
	return nil
}

// ingestFile parses one event file and dispatches it. Malformed files are
// left in place for inspection.
func (s *Spool) ingestFile(path string) {
	ev, err := ReadEventFile(path)
	if err != nil {
		return
	}
	_ = os.Remove(path)
	s.handler(ev)
}

// ReadEventFile parses a single event JSON document from disk.
func ReadEventFile(path string) (models.Event, error) {
	var ev models.Event

	data, err := os.ReadFile(path)
	if err != nil {
		return ev, fmt.Errorf("read event file: %w", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("parse event file %s: %w", path, err)
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("event file %s: unknown event type %q", path, ev.Type)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	return ev, nil
}
