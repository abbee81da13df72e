// Package worker provides managed background goroutines that share a halt
// signal.
package worker

import "sync"

// Worker is a set of managed background goroutines. The zero value is ready
// to use.
type Worker struct {
	wg       sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan struct{}
}

// Go runs fn in a new goroutine tracked by the worker. fn must watch HaltCh
// and return once it is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes the halt channel and waits for every goroutine started with
// Go to return. Calling Halt more than once is safe.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.wg.Wait()
}

// HaltCh returns the channel closed by Halt.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// Halted reports whether Halt has been called.
func (w *Worker) Halted() bool {
	select {
	case <-w.HaltCh():
		return true
	default:
		return false
	}
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}
