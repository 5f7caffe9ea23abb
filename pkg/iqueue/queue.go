// Package iqueue provides an unbounded FIFO queue between one producer
// channel and one consumer channel, pumped by a single Loop goroutine.
// Sends never block on slow consumers; backlog accumulates in memory.
package iqueue

import (
	"container/list"
	"sync"
	"sync/atomic"
)

func New() *Queue {
	return &Queue{
		queue: list.New(),
		send:  make(chan interface{}, 1),
		recv:  make(chan interface{}, 1),
	}
}

type Queue struct {
	queue     *list.List
	send      chan interface{}
	recv      chan interface{}
	length    int64
	closeOnce sync.Once
}

func (iq *Queue) Send(v interface{}) {
	iq.send <- v
}

func (iq *Queue) Receive() <-chan interface{} {
	return iq.recv
}

// Len reports how many values sit in the backlog between Send and
// Receive. Safe to call while Loop is pumping.
func (iq *Queue) Len() int {
	return int(atomic.LoadInt64(&iq.length))
}

// Queue exposes the backing list. Only safe to touch once Loop stopped
// pumping, during shutdown draining.
func (iq *Queue) Queue() *list.List {
	return iq.queue
}

// Close stops intake. Loop keeps delivering the buffered backlog and
// closes the receive channel once it runs dry. Safe to call from
// several consumers at once.
func (iq *Queue) Close() {
	iq.closeOnce.Do(func() {
		close(iq.send)
	})
}

// Loop pumps values from Send to Receive, buffering the overflow in
// between. It exits after Close once the backlog has been delivered.
func (iq *Queue) Loop() {
	send := iq.send
	for {
		front := iq.queue.Front()
		if front != nil {
			select {
			case iq.recv <- front.Value:
				iq.queue.Remove(front)
				atomic.AddInt64(&iq.length, -1)
			case value, ok := <-send:
				if ok {
					iq.queue.PushBack(value)
					atomic.AddInt64(&iq.length, 1)
				} else {
					send = nil
				}
			}
			continue
		}

		if send == nil {
			close(iq.recv)
			return
		}
		value, ok := <-send
		if !ok {
			send = nil
			continue
		}
		iq.queue.PushBack(value)
		atomic.AddInt64(&iq.length, 1)
	}
}
