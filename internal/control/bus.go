// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

package control

import (
	"fmt"

	"github.com/turnrtc/turnrtc/internal/commons"
)

// DefaultChannelSize is the buffered capacity of a session's control bus.
// Sized generously relative to expected control traffic (a handful of
// messages per turn) since, unlike media, control messages are never
// dropped by policy.
const DefaultChannelSize = 64

// Bus is a single-writer-many-reader-safe, ordered delivery channel for
// control messages, mirroring the teacher's outputCh push pattern
// (non-blocking send, warn-and-drop on overflow never happens here because
// control delivery must be reliable — see spec §4.6 "Delivery is at-least-once
// on the server→client direction"). The bus therefore blocks on send rather
// than drop; callers run it from a dedicated goroutine so a slow peer write
// never stalls a hot path like VAD scoring.
type Bus struct {
	logger commons.Logger
	ch     chan *Message
	done   chan struct{}
}

// NewBus creates a control bus with the default channel size.
func NewBus(logger commons.Logger) *Bus {
	return &Bus{logger: logger, ch: make(chan *Message, DefaultChannelSize), done: make(chan struct{})}
}

// Send enqueues msg for delivery. Safe to call after Close (it silently
// drops — Close means the session is already tearing down).
func (b *Bus) Send(msg *Message) {
	if msg == nil {
		return
	}
	select {
	case b.ch <- msg:
	case <-b.done:
		b.logger.Debugw("control bus closed, dropping message", "type", msg.Type)
	}
}

// Messages returns the receive side for the delivery loop to range over.
func (b *Bus) Messages() <-chan *Message { return b.ch }

// Close stops further delivery. Idempotent.
func (b *Bus) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// Deliver runs a delivery loop until the bus is closed, calling write for
// each message in order. A write error is logged and delivery continues —
// per spec §7, transport errors on the control channel never tear down the
// session on their own.
func (b *Bus) Deliver(write func(*Message) error) {
	for {
		select {
		case msg := <-b.ch:
			if err := write(msg); err != nil {
				b.logger.Warnw("control message delivery failed", "error", fmt.Sprint(err), "type", msg.Type)
			}
		case <-b.done:
			return
		}
	}
}
