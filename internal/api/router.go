// Package api mounts the public HTTP surface (C9): the WebRTC offer route,
// the WebSocket offer/telephone routes, and the per-session input/output
// hooks, on a host gin.Engine.
package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turnrtc/turnrtc/internal/app"
	"github.com/turnrtc/turnrtc/internal/commons"
	"github.com/turnrtc/turnrtc/internal/config"
	"github.com/turnrtc/turnrtc/internal/session"
	"github.com/turnrtc/turnrtc/internal/signalling"
	"github.com/turnrtc/turnrtc/internal/telephony"
)

// Mount registers every route named in spec §6 under cfg.RoutePrefix on
// engine. reg/engines are the single process-wide handler registration;
// a deployment that needs more than one handler mounts Mount once per
// registration with a distinct prefix (design notes §9 mount_under_prefix).
func Mount(engine *gin.Engine, logger commons.Logger, cfg config.AppConfig, sessions *session.Manager, reg app.Registration, engines app.Engines) {
	group := engine.Group(cfg.RoutePrefix)

	rtc := signalling.NewWebRTCHandler(logger, cfg, sessions, reg, engines)
	ws := signalling.NewWebSocketHandler(logger, cfg, sessions, reg, engines)

	group.POST("/webrtc/offer", func(c *gin.Context) {
		var req signalling.OfferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, failure, err := rtc.HandleOffer(c.Request.Context(), req)
		if err != nil {
			logger.Errorw("webrtc offer failed", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if failure != nil {
			c.JSON(http.StatusOK, failure)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	group.GET("/websocket/offer", func(c *gin.Context) {
		if err := ws.ServeBrowser(c.Writer, c.Request); err != nil {
			logger.Warnw("websocket offer ended", "error", err.Error())
		}
	})

	group.GET("/telephone/*path", func(c *gin.Context) {
		if err := ws.ServeTelephone(c.Writer, c.Request); err != nil {
			logger.Warnw("telephone bridge ended", "error", err.Error())
		}
	})

	// Provider-facing webhooks: tell Twilio/Vonage to open a media stream
	// back at the GET /telephone/* bridge above.
	group.POST("/telephone/twilio/voice", func(c *gin.Context) {
		streamURL := streamURLFor(c, cfg.RoutePrefix, "wss")
		doc, err := telephony.TwilioStreamTwiML(streamURL)
		if err != nil {
			c.String(http.StatusInternalServerError, "")
			return
		}
		c.Data(http.StatusOK, "text/xml", []byte(doc))
	})

	group.POST("/telephone/vonage/answer", func(c *gin.Context) {
		streamURL := streamURLFor(c, cfg.RoutePrefix, "wss")
		c.JSON(http.StatusOK, telephony.VonageStreamNCCO(streamURL))
	})

	group.POST("/input", func(c *gin.Context) {
		var req signalling.InputHookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, ok := sessions.Get(req.WebrtcID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		sess.Inputs.Set(req.Inputs)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group.GET("/output", func(c *gin.Context) {
		sess, ok := sessions.Get(c.Query("webrtc_id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		streamOutputs(c, sess)
	})
}

// streamOutputs implements the spec §6 output hook contract: "response is
// server-sent events; each event's data is the serialized AdditionalOutputs
// payload", ending when the session closes (spec §4.7 output_stream).
func streamOutputs(c *gin.Context, sess *session.Session) {
	c.Stream(func(w io.Writer) bool {
		for {
			if values, ok := sess.Outputs.PopOldest(); ok {
				c.SSEvent("output", values)
				return true
			}
			if sess.State() == session.Closed {
				return false
			}
			select {
			case <-sess.Outputs.Notify():
				continue
			case <-c.Request.Context().Done():
				return false
			case <-time.After(time.Second):
				// Periodic wake to notice the session closing even when no
				// output ever arrives.
				continue
			}
		}
	})
}

// streamURLFor builds the WebSocket URL a telephony webhook should direct
// its provider to, reusing the inbound request's host.
func streamURLFor(c *gin.Context, prefix, scheme string) string {
	return fmt.Sprintf("%s://%s%s/telephone/bridge", scheme, c.Request.Host, prefix)
}
