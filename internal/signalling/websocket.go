// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

package signalling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turnrtc/turnrtc/internal/app"
	"github.com/turnrtc/turnrtc/internal/audio/mulaw"
	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/config"
	"github.com/turnrtc/turnrtc/internal/control"
	"github.com/turnrtc/turnrtc/internal/session"
)

// outboundLinearRate is the fixed rate the WebSocket path transcodes
// outbound audio to (spec §4.8: "transcodes mu-law<->linear PCM at 24kHz
// on the outbound side").
const outboundLinearRate = 24000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler serves WS /websocket/offer (spec §4.8): mu-law@8kHz
// inbound framed as {event, media:{payload}} JSON messages, linear
// PCM@24kHz outbound. It is also reused, with PhoneMode set, for the
// GET /telephone/* PSTN bridge where both directions stay mu-law@8kHz.
type WebSocketHandler struct {
	logger   commons.Logger
	cfg      config.AppConfig
	sessions *session.Manager
	reg      app.Registration
	engines  app.Engines
}

func NewWebSocketHandler(logger commons.Logger, cfg config.AppConfig, sessions *session.Manager, reg app.Registration, engines app.Engines) *WebSocketHandler {
	return &WebSocketHandler{logger: logger, cfg: cfg, sessions: sessions, reg: reg, engines: engines}
}

// ServeBrowser handles the WS /websocket/offer upgrade for browser clients.
func (h *WebSocketHandler) ServeBrowser(w http.ResponseWriter, r *http.Request) error {
	return h.serve(w, r, false)
}

// ServeTelephone handles the GET /telephone/* upgrade for the PSTN bridge,
// keeping mu-law on both the inbound and outbound legs and pre-populating
// phone_mode (spec §3, §4.5 wait_for_args).
func (h *WebSocketHandler) ServeTelephone(w http.ResponseWriter, r *http.Request) error {
	return h.serve(w, r, true)
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, phoneMode bool) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("signalling: websocket upgrade: %w", err)
	}
	defer conn.Close()

	var started WSEvent
	if err := conn.ReadJSON(&started); err != nil {
		return fmt.Errorf("signalling: read start event: %w", err)
	}
	if started.Event != "start" {
		_ = conn.WriteJSON(WSEvent{Event: "stop"})
		return fmt.Errorf("signalling: expected start event, got %q", started.Event)
	}

	sess, err := h.sessions.Admit(started.WebsocketID)
	if err != nil {
		_ = conn.WriteJSON(FailureResponse{Status: "failed", Meta: FailureMeta{Error: "concurrency_limit_reached", Limit: h.cfg.ConcurrencyLimit}})
		return nil
	}
	if phoneMode {
		sess.PhoneMode = true
		sess.Inputs.SetPhoneMode()
	}
	sess.Transition(session.Connected)
	defer h.sessions.Close(sess.ID)

	outRate := outboundLinearRate
	if phoneMode {
		outRate = mulaw.SampleRate
	}
	pipeline, err := app.Build(r.Context(), h.logger, h.reg, h.engines, sess, h.cfg.OutputQueueCapacity,
		mulaw.SampleRate, outRate, audioframe.Mono)
	if err != nil {
		return fmt.Errorf("signalling: build pipeline: %w", err)
	}
	defer pipeline.Shutdown()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pumpOutbound(ctx, conn, pipeline, phoneMode)
	go h.pumpControl(ctx, conn, sess.Bus)

	for {
		var evt WSEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("signalling: read frame: %w", err)
		}
		switch evt.Event {
		case "media":
			if evt.Media == nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				h.logger.Debugw("websocket: bad base64 media payload", "error", err.Error())
				continue
			}
			pcm := mulaw.Decode(raw)
			frame := audioframe.AudioFrame{SampleRate: mulaw.SampleRate, Channels: audioframe.Mono, Samples: pcm}
			if err := pipeline.FeedAudio(ctx, frame); err != nil {
				h.logger.Debugw("websocket: feed audio failed", "error", err.Error())
			}
		case "stop":
			return nil
		}
	}
}

func (h *WebSocketHandler) pumpOutbound(ctx context.Context, conn *websocket.Conn, pipeline app.Pipeline, phoneMode bool) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := pipeline.PollAudio()
			if !ok {
				continue
			}
			var payload []byte
			if phoneMode {
				payload = mulaw.Encode(frame.Samples)
			} else {
				payload = linearToBytes(frame.Samples)
			}
			msg := WSEvent{Event: "media", Media: &WSMedia{Payload: base64.StdEncoding.EncodeToString(payload)}}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debugw("websocket: write media failed", "error", err.Error())
				return
			}
		}
	}
}

func (h *WebSocketHandler) pumpControl(ctx context.Context, conn *websocket.Conn, bus *control.Bus) {
	go bus.Deliver(func(msg *control.Message) error {
		return conn.WriteJSON(msg)
	})
	<-ctx.Done()
}

func linearToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
