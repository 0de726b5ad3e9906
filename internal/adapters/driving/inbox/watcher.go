// Package inbox ingests detection events dropped into a directory.
//
// Each *.json file holds one ingestion event. After ingestion the file is
// moved to processed/, or to failed/ alongside a .err file holding the reason.
// Retryable ingest failures leave the file in place and try it again with
// exponential backoff until the attempt limit is reached.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/core/services"
	"github.com/custodia-labs/detectsearch/internal/logger"
	"github.com/custodia-labs/detectsearch/internal/normalisers/detection"
)

var log = logger.For("inbox")

// Subdirectories of the inbox that hold handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// DefaultSettle is how long a file must go without writes before it is read.
const DefaultSettle = 250 * time.Millisecond

// Retry defaults for transient ingest failures.
const (
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultRetryMax    = 30 * time.Second
	DefaultMaxAttempts = 5
)

// Outcome describes one handled inbox file.
type Outcome struct {
	Path    string
	ImageID string
	Err     error
}

// Watcher watches an inbox directory and feeds events to an IngestService.
type Watcher struct {
	dir    string
	ingest driving.IngestService
	settle time.Duration

	retryBase   time.Duration
	retryMax    time.Duration
	maxAttempts int

	// OnHandled is called after each file is moved. Optional.
	OnHandled func(Outcome)

	mu       sync.Mutex
	pending  map[string]*time.Timer
	attempts map[string]int

	// ready receives paths whose timers fired; nil outside Run.
	ready chan string
}

// New creates a Watcher for dir.
func New(dir string, ingest driving.IngestService) *Watcher {
	return &Watcher{
		dir:         dir,
		ingest:      ingest,
		settle:      DefaultSettle,
		retryBase:   DefaultRetryBase,
		retryMax:    DefaultRetryMax,
		maxAttempts: DefaultMaxAttempts,
		pending:     make(map[string]*time.Timer),
		attempts:    make(map[string]int),
	}
}

// WithSettle overrides the write settle delay.
func (w *Watcher) WithSettle(d time.Duration) *Watcher {
	w.settle = d
	return w
}

// WithRetry sets the backoff for retryable ingest failures. A file is tried
// at most maxAttempts times before it moves to failed/.
func (w *Watcher) WithRetry(base, limit time.Duration, maxAttempts int) *Watcher {
	w.retryBase = base
	w.retryMax = limit
	w.maxAttempts = maxAttempts
	return w
}

// Run processes files already in the inbox, then watches for new ones
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{"", ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0755); err != nil {
			return fmt.Errorf("create inbox directory: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	ready := make(chan string, 16)
	w.mu.Lock()
	w.ready = ready
	w.mu.Unlock()
	defer func() {
		w.stopTimers()
		w.mu.Lock()
		w.ready = nil
		w.mu.Unlock()
	}()

	// Files that arrived before the watch was registered.
	if _, err := w.Sweep(ctx); err != nil {
		return err
	}

	log.Info("watching %s", w.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.candidate(event); ok {
				w.schedule(ctx, path, w.settle)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error: %v", err)
		case path := <-ready:
			w.handle(ctx, path)
		}
	}
}

// Sweep processes every event file currently in the inbox, oldest name first.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isEventFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.handle(ctx, filepath.Join(w.dir, name))
	}
	return len(names), nil
}

// candidate reports whether an event names a file worth processing.
func (w *Watcher) candidate(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) || !isEventFile(filepath.Base(event.Name)) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return "", false
	}
	return event.Name, true
}

// schedule delivers path to the Run loop once it has been quiet for delay.
// Outside Run it does nothing.
func (w *Watcher) schedule(ctx context.Context, path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ready := w.ready
	if ready == nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(delay)
		return
	}
	w.pending[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// handle ingests one file and moves it out of the inbox, unless the failure
// is retryable and attempts remain.
func (w *Watcher) handle(ctx context.Context, path string) {
	outcome := Outcome{Path: path}
	outcome.ImageID, outcome.Err = w.ingestFile(ctx, path)
	if errors.Is(outcome.Err, os.ErrNotExist) {
		// Already handled by an earlier event.
		w.forget(path)
		return
	}

	if outcome.Err != nil && domain.IsRetryable(outcome.Err) {
		if delay, ok := w.retryDelay(path); ok {
			log.Warn("%s: %v; retrying in %s", filepath.Base(path), outcome.Err, delay)
			w.schedule(ctx, path, delay)
			return
		}
	}
	w.forget(path)

	dest := ProcessedDir
	if outcome.Err != nil {
		dest = FailedDir
		log.Warn("%s: %v", filepath.Base(path), outcome.Err)
	} else {
		log.Debug("ingested %s from %s", outcome.ImageID, filepath.Base(path))
	}

	if err := w.move(path, dest, outcome.Err); err != nil {
		log.Error("%v", err)
	}
	if w.OnHandled != nil {
		w.OnHandled(outcome)
	}
}

// retryDelay counts a failed attempt for path and returns the backoff
// before the next one, or false once the attempt limit is spent.
func (w *Watcher) retryDelay(path string) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.attempts[path]++
	n := w.attempts[path]
	if n >= w.maxAttempts {
		return 0, false
	}
	return services.Backoff(w.retryBase, w.retryMax, n), true
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, path)
}

func (w *Watcher) ingestFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	event, malformed, err := detection.DecodeEvent(data)
	if err != nil {
		return "", fmt.Errorf("decode event: %w", err)
	}
	if malformed > 0 {
		log.Debug("%s: %d malformed detections skipped", filepath.Base(path), malformed)
	}
	if _, err := w.ingest.Ingest(ctx, *event); err != nil {
		return event.ImageID, fmt.Errorf("ingest %s: %w", event.ImageID, err)
	}
	return event.ImageID, nil
}

// move relocates path into sub, writing the failure reason next to it.
func (w *Watcher) move(path, sub string, cause error) error {
	target := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("move %s to %s: %w", filepath.Base(path), sub, err)
	}
	if cause != nil {
		if err := os.WriteFile(target+".err", []byte(cause.Error()+"\n"), 0644); err != nil {
			return fmt.Errorf("write failure reason: %w", err)
		}
	}
	return nil
}

func isEventFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
