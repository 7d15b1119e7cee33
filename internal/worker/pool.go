// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker runs background tasks off the goroutines that detect
// incidents.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/log"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("worker pool closed")

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("worker queue full")

// Task is one unit of work. ctx is cancelled when shutdown abandons
// outstanding work.
type Task func(ctx context.Context)

// Config sizes a Pool.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// Pool is a fixed set of goroutines draining a bounded queue.
type Pool struct {
	name   string
	logger zerolog.Logger

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool. Workers defaults to 1 and QueueSize to 64.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   cfg.Name,
		logger: log.WithComponent(cfg.Name),
		tasks:  make(chan Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.run()
	}
	return p
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Go adapts Submit to the func() executor shape used by notifiers.
func (p *Pool) Go(fn func()) error {
	return p.Submit(func(context.Context) { fn() })
}

// Shutdown stops accepting work and waits for queued tasks to finish. If
// ctx ends first, running tasks see their context cancelled, queued tasks
// are dropped and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn().
			Str(log.FieldEvent, "worker.shutdown_abandoned").
			Int("queued", len(p.tasks)).
			Msg("shutdown grace period elapsed, abandoning outstanding work")
		return fmt.Errorf("%s shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		if p.ctx.Err() != nil {
			continue
		}
		p.exec(t)
	}
}

func (p *Pool) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str(log.FieldEvent, "worker.task_panic").
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("background task panicked")
		}
	}()
	t(p.ctx)
}
