package runner

import (
	"io"
	"sync"
	"time"
)

// idleWatchdog fires a cancellation callback when a task writes no output
// for the configured timeout. Every non-empty write through a wrapped
// writer resets the timer.
type idleWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	cancel  func()
	idled   bool
	stopped bool
}

// newIdleWatchdog arms a watchdog. Pass 0 to disable idle detection.
func newIdleWatchdog(timeout time.Duration, cancel func()) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, w.onTimeout)
	}
	return w
}

// Wrap returns a writer that forwards to dst and counts as activity.
// Wrap once and share the result between Stdout and Stderr so exec uses
// a single pipe for both.
func (w *idleWatchdog) Wrap(dst io.Writer) io.Writer {
	return &idleWriter{dst: dst, w: w}
}

func (w *idleWatchdog) touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && !w.stopped && !w.idled {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) onTimeout() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.idled = true
	w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Idled returns true if the idle timeout fired.
func (w *idleWatchdog) Idled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idled
}

// Stop disarms the watchdog. Call in defer once the task has exited.
func (w *idleWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

type idleWriter struct {
	dst io.Writer
	w   *idleWatchdog
}

func (iw *idleWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		iw.w.touch()
	}
	return iw.dst.Write(p)
}
