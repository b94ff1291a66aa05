package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("worker pool closed")

// Pool bounds the number of job bodies running at once.
type Pool struct {
	sem chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go runs fn on a free slot, blocking until one frees up or ctx ends.
// A panic in fn is logged and the slot released.
func (p *Pool) Go(ctx context.Context, name string, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return ctx.Err()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job", name).Interface("panic", r).Msg("job panicked")
			}
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Busy reports how many slots are held.
func (p *Pool) Busy() int { return len(p.sem) }

func (p *Pool) Size() int { return cap(p.sem) }

// Close stops accepting work and waits for running jobs until ctx ends.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
