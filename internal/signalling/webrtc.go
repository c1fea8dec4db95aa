// Copyright (c) 2026 TurnRTC Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// see LICENSE for details.

package signalling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/turnrtc/turnrtc/internal/app"
	"github.com/turnrtc/turnrtc/internal/audio/opus"
	"github.com/turnrtc/turnrtc/internal/audioframe"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/config"
	"github.com/turnrtc/turnrtc/internal/control"
	"github.com/turnrtc/turnrtc/internal/session"
)

const (
	opusSDPFmtpLine    = "minptime=10;useinbandfec=1"
	opusPayloadType    = 111
	rtpBufferSize      = 1500
	maxConsecutiveErrs = 50
)

// WebRTCHandler negotiates one POST /webrtc/offer exchange and then pumps
// media between the pion PeerConnection and an app.Pipeline for the
// lifetime of the connection (spec §4.8).
type WebRTCHandler struct {
	logger   commons.Logger
	cfg      config.AppConfig
	sessions *session.Manager
	reg      app.Registration
	engines  app.Engines
}

// NewWebRTCHandler builds the handler bound to a single Registration; a
// deployment exposing more than one handler mounts one WebRTCHandler per
// route per design notes §9's add_post/add_ws transport adapter.
func NewWebRTCHandler(logger commons.Logger, cfg config.AppConfig, sessions *session.Manager, reg app.Registration, engines app.Engines) *WebRTCHandler {
	return &WebRTCHandler{logger: logger, cfg: cfg, sessions: sessions, reg: reg, engines: engines}
}

// HandleOffer implements the POST /webrtc/offer contract: accept an SDP
// offer, admit or adopt a session, build the local PeerConnection, and
// return the SDP answer plus the session id.
func (h *WebRTCHandler) HandleOffer(ctx context.Context, req OfferRequest) (*OfferResponse, *FailureResponse, error) {
	sess, err := h.sessions.Admit(req.WebrtcID)
	if errors.Is(err, session.ErrAtCapacity) {
		return nil, &FailureResponse{Status: "failed", Meta: FailureMeta{Error: "concurrency_limit_reached", Limit: h.cfg.ConcurrencyLimit}}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("signalling: admit: %w", err)
	}

	pc, localTrack, err := h.createPeerConnection()
	if err != nil {
		h.sessions.Close(sess.ID)
		return nil, nil, fmt.Errorf("signalling: create peer connection: %w", err)
	}

	pipeline, err := app.Build(ctx, h.logger, h.reg, h.engines, sess, h.cfg.OutputQueueCapacity,
		opus.SampleRate, opus.SampleRate, audioframe.Mono)
	if err != nil {
		_ = pc.Close()
		h.sessions.Close(sess.ID)
		return nil, nil, fmt.Errorf("signalling: build pipeline: %w", err)
	}

	conn := &peerSession{
		logger:   h.logger,
		session:  sess,
		pc:       pc,
		track:    localTrack,
		pipeline: pipeline,
	}
	conn.wireEvents(h.sessions, h.cfg.SignalAdmissionTimeout)

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: req.SDP}); err != nil {
		_ = pc.Close()
		h.sessions.Close(sess.ID)
		return nil, nil, fmt.Errorf("signalling: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		h.sessions.Close(sess.ID)
		return nil, nil, fmt.Errorf("signalling: create answer: %w", err)
	}
	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		h.sessions.Close(sess.ID)
		return nil, nil, fmt.Errorf("signalling: set local description: %w", err)
	}
	<-gatherComplete

	go conn.pumpOutbound(ctx)

	return &OfferResponse{SDP: pc.LocalDescription().SDP, Type: "answer", WebrtcID: sess.ID}, nil, nil
}

func (h *WebRTCHandler) createPeerConnection() (*pionwebrtc.PeerConnection, *pionwebrtc.TrackLocalStaticSample, error) {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:    pionwebrtc.MimeTypeOpus,
			ClockRate:   opus.SampleRate,
			Channels:    2,
			SDPFmtpLine: opusSDPFmtpLine,
		},
		PayloadType: opusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return nil, nil, fmt.Errorf("register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine), pionwebrtc.WithInterceptorRegistry(registry))

	iceServers := make([]pionwebrtc.ICEServer, len(h.cfg.RTCConfiguration.ICEServers))
	for i, srv := range h.cfg.RTCConfiguration.ICEServers {
		iceServers[i] = pionwebrtc.ICEServer{URLs: srv.URLs, Username: srv.Username, Credential: srv.Credential}
	}
	pcConfig := pionwebrtc.Configuration{ICEServers: iceServers}
	if h.cfg.RTCConfiguration.ICETransportPolicy == "relay" {
		pcConfig.ICETransportPolicy = pionwebrtc.ICETransportPolicyRelay
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("new peer connection: %w", err)
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeOpus, ClockRate: opus.SampleRate, Channels: 2},
		"audio", "turnrtc",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("new local track: %w", err)
	}
	// Audio transceiver direction follows the negotiated send-receive/
	// send/receive Mode (spec §6 mode): send-receive keeps the default
	// AddTrack behavior (sendrecv, with OnTrack handling the receive
	// side); send and receive pin the transceiver explicitly so a
	// receive-only deployment never offers to send, and vice versa.
	switch h.cfg.Mode {
	case config.ModeSend:
		if _, err := pc.AddTransceiverFromTrack(track, pionwebrtc.RTPTransceiverInit{Direction: pionwebrtc.RTPTransceiverDirectionSendonly}); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	case config.ModeReceive:
		if _, err := pc.AddTransceiverFromKind(pionwebrtc.RTPCodecTypeAudio, pionwebrtc.RTPTransceiverInit{Direction: pionwebrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	default: // config.ModeSendReceive
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add track: %w", err)
		}
	}

	if h.cfg.Modality == config.ModalityAudioVideo || h.cfg.Modality == config.ModalityVideo {
		if _, err := pc.AddTransceiverFromKind(pionwebrtc.RTPCodecTypeVideo); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add video transceiver: %w", err)
		}
	}

	return pc, track, nil
}

// peerSession binds one negotiated PeerConnection to its Session and
// Pipeline, and owns the Opus codec instances used to cross the RTP
// boundary in both directions.
type peerSession struct {
	logger   commons.Logger
	session  *session.Session
	pc       *pionwebrtc.PeerConnection
	track    *pionwebrtc.TrackLocalStaticSample
	pipeline app.Pipeline

	mu      sync.Mutex
	encoder *opus.Codec
	outBuf  []int16 // carried remainder, re-framed to exactly opus.FrameSize before each Encode
}

func (c *peerSession) wireEvents(mgr *session.Manager, admissionTimeout time.Duration) {
	watchdog := time.AfterFunc(admissionTimeout, func() {
		if c.session.State() == session.Negotiating {
			c.session.Bus.Send(control.NewConnectionTimeout())
			mgr.Close(c.session.ID)
		}
	})

	c.pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		switch state {
		case pionwebrtc.PeerConnectionStateConnected:
			watchdog.Stop()
			c.session.Transition(session.Connected)
		case pionwebrtc.PeerConnectionStateFailed, pionwebrtc.PeerConnectionStateClosed:
			c.pipeline.Shutdown()
			mgr.Close(c.session.ID)
		}
	})

	c.pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() == pionwebrtc.RTPCodecTypeAudio {
			go c.readRemoteAudio(track)
		}
	})
}

// readRemoteAudio decodes inbound Opus RTP packets and hands PCM frames to
// the pipeline (spec §4.1: peer audio always arrives and leaves as PCM at
// the pipeline boundary, the frame codec resamples as needed).
func (c *peerSession) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	dec, err := opus.New()
	if err != nil {
		c.logger.Errorw("webrtc: opus decoder init failed", "error", err.Error())
		return
	}

	buf := make([]byte, rtpBufferSize)
	consecutiveErrs := 0
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrs++
			if consecutiveErrs >= maxConsecutiveErrs {
				c.logger.Warnw("webrtc: too many consecutive read errors, stopping", "session", c.session.ID)
				return
			}
			continue
		}
		consecutiveErrs = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil || len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt.Payload)
		if err != nil {
			continue
		}
		frame := audioframe.AudioFrame{SampleRate: opus.SampleRate, Channels: audioframe.Mono, Samples: pcm}
		if err := c.pipeline.FeedAudio(context.Background(), frame); err != nil {
			c.logger.Debugw("webrtc: feed audio failed", "error", err.Error())
		}
	}
}

// pumpOutbound drains the pipeline's polled audio, re-frames it to
// exactly opus.FrameSize samples (the pipeline's declared output frame
// size need not match Opus's fixed 2.5/5/10/20/40/60ms frame durations,
// spec §4.1), encodes to Opus, and writes media.Sample packets to the
// local track.
func (c *peerSession) pumpOutbound(ctx context.Context) {
	enc, err := opus.New()
	if err != nil {
		c.logger.Errorw("webrtc: opus encoder init failed", "error", err.Error())
		return
	}
	c.mu.Lock()
	c.encoder = enc
	c.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := c.pipeline.PollAudio()
			if ok {
				c.outBuf = append(c.outBuf, frame.Samples...)
			}
			for len(c.outBuf) >= opus.FrameSize {
				c.encodeAndWrite(enc, c.outBuf[:opus.FrameSize])
				c.outBuf = c.outBuf[opus.FrameSize:]
			}
		}
	}
}

func (c *peerSession) encodeAndWrite(enc *opus.Codec, pcm []int16) {
	payload, err := enc.Encode(pcm)
	if err != nil {
		c.logger.Debugw("webrtc: opus encode failed", "error", err.Error())
		return
	}
	if err := c.track.WriteSample(media.Sample{Data: payload, Duration: 20 * time.Millisecond}); err != nil {
		c.logger.Debugw("webrtc: write sample failed", "error", err.Error())
	}
}
