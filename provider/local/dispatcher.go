package local

import (
	"sync"
	"sync/atomic"

	session "github.com/goliatone/go-session"
)

type subscription struct {
	id      uint64
	handler session.ChangeHandler
	active  atomic.Bool
}

type delivery struct {
	sub      *subscription
	identity *session.Identity
}

// dispatcher delivers change notifications from a single goroutine so every
// subscription sees them in order and never concurrently.
type dispatcher struct {
	mu      sync.Mutex
	queue   []delivery
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	onPanic func(any)
}

func newDispatcher(onPanic func(any)) *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onPanic: onPanic,
	}
	go d.run()
	return d
}

func (d *dispatcher) push(items ...delivery) {
	if len(items) == 0 {
		return
	}

	d.mu.Lock()
	d.queue = append(d.queue, items...)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, item := range batch {
			d.deliver(item)
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-d.wake:
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) deliver(item delivery) {
	if item.sub == nil || !item.sub.active.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(r)
		}
	}()

	item.sub.handler(item.identity.Clone())
}

func (d *dispatcher) stop() {
	d.once.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
