// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

// Package session implements the spec §4.7 Session Manager (C7) and the
// §3 Session data model: identity, lifecycle, the input snapshot, and the
// bounded AdditionalOutputs queue.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/control"
	"github.com/turnrtc/turnrtc/internal/handler"
)

// InputSentinel is the reserved index-0 value of every session's input
// snapshot (spec §3: "index 0 is the reserved sentinel __webrtc_value__").
const InputSentinel = "__webrtc_value__"

// State is the session lifecycle from spec §3.
type State int

const (
	Negotiating State = iota
	Connected
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// GenerateID produces an opaque, url-safe session id of at least 6 chars,
// per spec §3.
func GenerateID() (string, error) {
	buf := make([]byte, 9) // 9 bytes -> 12 base64url chars, well above the 6-char floor
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(buf), "="), nil
}

// ValidID reports whether id satisfies the spec's "≥6 chars, url-safe"
// constraint, used when adopting a client-supplied webrtc_id (spec §4.8).
func ValidID(id string) bool {
	if len(id) < 6 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// InputSnapshot is the mutable, mutex-protected ordered list of values the
// handler observes on its next invocation (spec §3/§5). Index 0 is
// InputSentinel, except after SetPhoneMode, which replaces the whole list
// with a single nil until the next Set.
type InputSnapshot struct {
	mu     sync.Mutex
	values []any
}

// NewInputSnapshot builds a snapshot seeded with only the sentinel.
func NewInputSnapshot() *InputSnapshot {
	return &InputSnapshot{values: []any{InputSentinel}}
}

// Set atomically replaces everything after the sentinel (spec §4.7
// set_input: "atomically replaces the input snapshot").
func (s *InputSnapshot) Set(values []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append([]any{InputSentinel}, values...)
}

// Snapshot returns a stable copy of the current values, taken under the
// lock and safe to use after release (spec §5: "readers take a stable
// copy under the lock and release it before invoking user code").
func (s *InputSnapshot) Snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.values))
	copy(out, s.values)
	return out
}

// SetPhoneMode pre-populates latest_args=[nil] for telephone sessions,
// where wait_for_args must never block because no inputs are expected
// (spec §4.5).
func (s *InputSnapshot) SetPhoneMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = []any{nil}
}

// OutputQueue is the bounded, mutex-protected AdditionalOutputs queue from
// spec §3: "queues have a configurable capacity and the oldest entry is
// dropped with a warning when full."
type OutputQueue struct {
	mu       sync.Mutex
	capacity int
	items    [][]any
	notify   chan struct{}
	bus      *control.Bus
}

// NewOutputQueue builds a queue bounded to capacity entries.
func NewOutputQueue(capacity int, bus *control.Bus) *OutputQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &OutputQueue{capacity: capacity, notify: make(chan struct{}, 1), bus: bus}
}

// Push appends an AdditionalOutputs entry, dropping the oldest with a
// warning if the queue is already at capacity.
func (q *OutputQueue) Push(values []any) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.bus.Send(control.NewWarning("output queue at capacity, dropped oldest AdditionalOutputs entry"))
	}
	q.items = append(q.items, values)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// PopOldest returns and removes the oldest queued entry, per spec §4.7
// fetch_latest_output.
func (q *OutputQueue) PopOldest() ([]any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

// Notify returns a channel that receives a signal whenever a new entry is
// pushed, used by output_stream (spec §4.7) to wake a blocked reader.
func (q *OutputQueue) Notify() <-chan struct{} { return q.notify }

// Session is the spec §3 Session: one peer transport, one handler
// instance, one input snapshot, one bounded output queue.
type Session struct {
	ID string

	logger commons.Logger

	mu    sync.Mutex
	state State

	CreatedAt time.Time

	Inputs  *InputSnapshot
	Outputs *OutputQueue
	Bus     *control.Bus

	Runtime *handler.Runtime

	PhoneMode bool

	cancelTimers []func()
}

// New constructs a Session in state Negotiating.
func New(id string, logger commons.Logger, outputCapacity int) *Session {
	bus := control.NewBus(logger)
	return &Session{
		ID:        id,
		logger:    logger,
		state:     Negotiating,
		CreatedAt: time.Now(),
		Inputs:    NewInputSnapshot(),
		Outputs:   NewOutputQueue(outputCapacity, bus),
		Bus:       bus,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to a new state. Closed is terminal: once
// set, further transitions are no-ops (spec §3 "Closed is terminal").
func (s *Session) Transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.state = to
}

// Close moves the session to Closed, stops its runtime, and releases its
// control bus. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	alreadyClosed := s.state == Closed
	s.state = Closed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}
	if s.Runtime != nil {
		if err := s.Runtime.Shutdown(); err != nil {
			s.logger.Warnw("handler shutdown error", "session", s.ID, "error", err.Error())
		}
	}
	s.Bus.Close()
}

// ValidateInboundAudio is a convenience wrapper used by the inbound pump
// to reject malformed frames before they reach the codec (spec §4.1
// Errors).
func ValidateInboundAudio(frame audioframe.AudioFrame) error {
	return frame.Validate()
}
