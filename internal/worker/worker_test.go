package worker_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/opifices/opit/internal/worker"
	"github.com/stretchr/testify/assert"
)

type Parent struct {
	workers worker.Workers
}

func (p *Parent) Run(stopC chan struct{}) {
	c := &Child{}
	p.workers.Start(c)
	<-stopC
}

func (p *Parent) Stop() {
	p.workers.Stop()
}

type Child struct{}

func (c *Child) Run(stopC chan struct{}) {
	close(childRun)
	fmt.Println("hello from child")
	<-stopC
	fmt.Println("child is stopped")
}

var childRun = make(chan struct{})

func Example() {
	p := &Parent{}
	go p.Run(nil)
	<-childRun
	p.Stop()
	// Output:
	// hello from child
	// child is stopped
}

func TestStartTicker(t *testing.T) {
	defer leaktest.Check(t)()

	var w worker.Workers
	var n atomic.Int32
	w.StartTicker(time.Millisecond, func() { n.Add(1) })
	assert.Eventually(t, func() bool { return n.Load() >= 3 }, 5*time.Second, time.Millisecond)
	w.Stop()
	stopped := n.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
}
