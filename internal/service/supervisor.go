package service

import (
	"context"
	"log"
	"sync"
)

// Supervisor owns the background watcher goroutines so shutdown can drain
// them instead of leaking work past process exit.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor() *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Go runs fn on a supervised goroutine. The passed context is cancelled
// when the supervisor shuts down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Supervisor] %s panicked: %v", name, r)
			}
		}()
		fn(s.ctx)
	}()
}

// Shutdown cancels all supervised goroutines and waits for them to finish,
// bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
