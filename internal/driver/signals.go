package driver

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopSignal is the file name an operator drops into the signals
// directory to halt new dispatches.
const StopSignal = "stop"

// SignalWatcher watches the state directory's signals/ folder so a
// run can be halted from outside the process. Dispatches already in
// flight are allowed to finish; only new ones are held back.
type SignalWatcher struct {
	signalsDir string

	mu   sync.RWMutex
	stop bool

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewSignalWatcher creates the signals directory and starts watching
// it. If the file watcher cannot be set up the watcher still works
// through the stat fallback in ShouldStop.
func NewSignalWatcher(stateDir string) (*SignalWatcher, error) {
	signalsDir := filepath.Join(stateDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sw, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		return sw, nil
	}
	sw.watcher = watcher
	go sw.watch()

	return sw, nil
}

func (w *SignalWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopSignal && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.mu.Lock()
				w.stop = true
				w.mu.Unlock()
			}
		case <-w.watcher.Errors:
			// Keep watching; ShouldStop stats the file anyway.
		}
	}
}

// ShouldStop reports whether a stop signal has been received. It also
// stats the signal file directly in case the watcher missed the
// event. Safe to call on a nil watcher.
func (w *SignalWatcher) ShouldStop() bool {
	if w == nil {
		return false
	}

	if _, err := os.Stat(filepath.Join(w.signalsDir, StopSignal)); err == nil {
		w.mu.Lock()
		w.stop = true
		w.mu.Unlock()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stop
}

// SendStop creates the stop signal file.
func (w *SignalWatcher) SendStop() error {
	return os.WriteFile(filepath.Join(w.signalsDir, StopSignal), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes any signal files and resets the stop flag.
func (w *SignalWatcher) ClearSignals() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stop = false
	os.Remove(filepath.Join(w.signalsDir, StopSignal))
}

// Close stops the background watcher.
func (w *SignalWatcher) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
