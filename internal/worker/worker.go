// Package worker runs goroutines that can be stopped together.
package worker

import (
	"sync"
	"time"
)

// Worker is a unit of work that runs in its own goroutine.
type Worker interface {
	// Run is a blocking method that usually contains a for/select loop.
	// It must return after stopC is closed.
	Run(stopC chan struct{})
}

// Func is an adapter to allow the use of ordinary functions as Worker.
type Func func(stopC chan struct{})

// Run calls f(stopC).
func (f Func) Run(stopC chan struct{}) { f(stopC) }

// Workers is a group of running workers. Zero value is ready to use.
type Workers struct {
	m     sync.Mutex
	stopC chan struct{}
	wg    sync.WaitGroup
}

func (w *Workers) stopChan() chan struct{} {
	w.m.Lock()
	defer w.m.Unlock()
	if w.stopC == nil {
		w.stopC = make(chan struct{})
	}
	return w.stopC
}

// Start runs r in a new goroutine.
func (w *Workers) Start(r Worker) {
	stopC := w.stopChan()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		r.Run(stopC)
	}()
}

// StartTicker calls fn every interval in a new goroutine until the workers are stopped.
func (w *Workers) StartTicker(interval time.Duration, fn func()) {
	w.Start(Func(func(stopC chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stopC:
				return
			}
		}
	}))
}

// Stop signals all workers to stop and waits for them to return. Workers cannot be started after Stop.
func (w *Workers) Stop() {
	close(w.stopChan())
	w.wg.Wait()
}
