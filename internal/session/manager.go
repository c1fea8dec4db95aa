// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

package session

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/config"
)

// ErrAtCapacity is returned by Manager.Admit when concurrency_limit has
// been reached (spec §4.7 admission control).
var ErrAtCapacity = fmt.Errorf("session: at capacity")

// Manager is the spec §4.7 Session Manager: admission control plus the
// registry of live sessions, keyed by id.
type Manager struct {
	logger commons.Logger
	cfg    config.AppConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager bound to cfg's concurrency_limit and
// time_limit.
func NewManager(logger commons.Logger, cfg config.AppConfig) *Manager {
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Admit creates and registers a new Session, rejecting with ErrAtCapacity
// if concurrency_limit (<=0 meaning unbounded) has been reached. If
// requestedID satisfies ValidID and is not already in use, it is adopted
// verbatim (spec §4.8 webrtc_id reuse); otherwise a fresh id is minted.
func (m *Manager) Admit(requestedID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.ConcurrencyLimit > 0 && len(m.sessions) >= m.cfg.ConcurrencyLimit {
		return nil, ErrAtCapacity
	}

	id := requestedID
	if id == "" || !ValidID(id) || m.sessions[id] != nil {
		fresh, err := GenerateID()
		if err != nil {
			return nil, err
		}
		id = fresh
	}

	s := New(id, m.logger, m.cfg.OutputQueueCapacity)
	m.sessions[id] = s

	if m.cfg.TimeLimit > 0 {
		timer := time.AfterFunc(m.cfg.TimeLimit, func() {
			m.logger.Infow("session time_limit reached, closing", "session", id)
			m.Close(id)
		})
		s.cancelTimers = append(s.cancelTimers, func() { timer.Stop() })
	}

	return s, nil
}

// Get looks up a registered session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of currently admitted sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down and deregisters a session, if present. Idempotent.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, cancel := range s.cancelTimers {
		cancel()
	}
	s.Close()
}

// CloseAll tears down every registered session, e.g. on process shutdown.
// Sessions are closed concurrently so one slow handler Shutdown does not
// hold up every other session's teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			m.Close(id)
			return nil
		})
	}
	_ = g.Wait()
}
