// Package rworker runs small fire-and-forget jobs whose concurrency is
// capped by a shared rate channel.
package rworker

import "sync"

// Job schedules fn on its own goroutine once the rate channel admits it.
// The channel's capacity is the number of jobs allowed in flight. A non-nil
// error is offered to errCh without blocking; when errCh is full the error
// is dropped.
func Job(wg *sync.WaitGroup, fn func() error, rate chan struct{}, errCh chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		rate <- struct{}{}
		defer func() { <-rate }()
		if err := fn(); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
}
