// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

package handler

import (
	"context"
	"sync"
	"time"

	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/control"
)

// DefaultInboundQueueSize bounds the Runtime's inbound frame queue (spec
// §4.5/§5: "fixed capacity ... overflow drops the oldest frame with a
// warning — never blocks the transport").
const DefaultInboundQueueSize = 64

// emitPollInterval bounds how often an idle Emit is retried.
const emitPollInterval = 5 * time.Millisecond

// Runtime owns one RawHandler instance for a session's entire life and
// drives its receive/emit loop per spec §5's "handler pump" fiber.
type Runtime struct {
	logger commons.Logger
	bus    *control.Bus
	h      RawHandler

	inboundCh  chan audioframe.AudioFrame
	outboundCh chan Yield

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a Runtime around a freshly-copied handler instance. Call
// Start once before Receive/Emit are used.
func New(ctx context.Context, logger commons.Logger, bus *control.Bus, h RawHandler) *Runtime {
	rctx, cancel := context.WithCancel(ctx)
	return &Runtime{
		logger:     logger,
		bus:        bus,
		h:          h,
		inboundCh:  make(chan audioframe.AudioFrame, DefaultInboundQueueSize),
		outboundCh: make(chan Yield, DefaultInboundQueueSize),
		ctx:        rctx,
		cancel:     cancel,
	}
}

// Start invokes StartUp (if the handler implements Starter) and launches
// the inbound dispatcher and outbound poller goroutines. Idempotent.
func (r *Runtime) Start() error {
	var startErr error
	r.startOnce.Do(func() {
		if s, ok := r.h.(Starter); ok {
			if err := s.StartUp(); err != nil {
				startErr = err
				return
			}
		}
		r.wg.Add(2)
		go r.runInboundDispatch()
		go r.runOutboundPoll()
	})
	return startErr
}

// Receive enqueues an inbound frame for delivery to the handler. Never
// blocks: on a full queue the oldest pending frame is dropped and a
// warning control message is emitted (spec §4.5).
func (r *Runtime) Receive(frame audioframe.AudioFrame) {
	select {
	case r.inboundCh <- frame:
		return
	default:
	}
	// Queue full: drop the oldest and retry once.
	select {
	case <-r.inboundCh:
		r.bus.Send(control.NewWarning("handler inbound queue full, dropped oldest frame"))
	default:
	}
	select {
	case r.inboundCh <- frame:
	default:
		r.bus.Send(control.NewWarning("handler inbound queue full, dropped incoming frame"))
	}
}

// runInboundDispatch drains inboundCh and calls h.Receive one frame at a
// time, in arrival order (spec §5 "Inbound frames are delivered to the
// handler in arrival order"). A single dedicated goroutine is itself the
// bridge off the event loop (spec §4.5): a slow synchronous Receive only
// ever blocks this goroutine, never the inbound transport, since Receive
// already enqueues non-blockingly with oldest-drop overflow.
func (r *Runtime) runInboundDispatch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case frame := <-r.inboundCh:
			r.h.Receive(frame)
		}
	}
}

// runOutboundPoll repeatedly calls h.Emit and forwards non-empty results
// to outboundCh. Running this in its own goroutine lets a synchronous
// handler's Emit block internally (e.g. waiting on its own queue) without
// violating the "Emit must return without blocking the scheduler"
// contract seen by Poll — the outbound pump only ever does a non-blocking
// channel read.
func (r *Runtime) runOutboundPoll() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		y, ok := r.h.Emit()
		if !ok {
			// Nothing to send yet — brief backoff so an idle handler
			// does not spin the poller at 100% CPU.
			time.Sleep(emitPollInterval)
			continue
		}
		select {
		case r.outboundCh <- y:
		case <-r.ctx.Done():
			return
		}
	}
}

// Poll returns the next available outbound Yield without blocking. This
// is what the outbound pump (spec §5) calls in its loop.
func (r *Runtime) Poll() (Yield, bool) {
	select {
	case y := <-r.outboundCh:
		return y, true
	default:
		return Yield{}, false
	}
}

// Shutdown cancels the runtime's goroutines, waits for in-flight work to
// finish, and calls the handler's Shutdown exactly once. Later calls return
// the first call's result.
func (r *Runtime) Shutdown() error {
	r.shutdownOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.shutdownErr = r.h.Shutdown()
	})
	return r.shutdownErr
}
