package hookqueue

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debouncer fires fn at most once per delay, restarting the wait on
// every Trigger call. Grounded on untoldecay-BeadsLog/cmd/bd's
// NewDebouncer/Trigger/Cancel used to coalesce JSONL write bursts.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
	fn    func()
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Watcher watches the queue directory for changes to pending.json and
// triggers a debounced drain. A processing flag blocks re-entrant
// drains faster than the lock file can; only one drain runs at a time
// per process.
type Watcher struct {
	queue      *Queue
	apply      ApplyFunc
	debouncer  *Debouncer
	fsw        *fsnotify.Watcher
	processing atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	onDrain    func(DrainResult, error)
}

// NewWatcher opens an fsnotify watch on q's directory. onDrain, if
// non-nil, is called after every drain attempt (including skipped ones)
// for logging.
func NewWatcher(q *Queue, apply ApplyFunc, onDrain func(DrainResult, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(q.dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{queue: q, apply: apply, fsw: fsw, onDrain: onDrain}
	w.debouncer = NewDebouncer(500*time.Millisecond, w.runDrain)
	return w, nil
}

func (w *Watcher) runDrain() {
	if !w.processing.CompareAndSwap(false, true) {
		return
	}
	defer w.processing.Store(false)
	res, err := w.queue.Drain(context.Background(), w.apply)
	if w.onDrain != nil {
		w.onDrain(res, err)
	}
}

// Start runs one unconditional drain, then watches for filesystem
// events until ctx is canceled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.runDrain()

	base := filepath.Base(w.queue.path())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == base {
					w.debouncer.Trigger()
				}
			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.debouncer.Cancel()
	return w.fsw.Close()
}
