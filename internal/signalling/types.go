// Package signalling implements the spec §4.8 Signalling/Negotiation (C8):
// the WebRTC SDP offer/answer exchange and the WebSocket start/media/stop
// framing used by the telephone bridge.
package signalling

// OfferRequest is the spec §6 POST /webrtc/offer body.
type OfferRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebrtcID string `json:"webrtc_id"`
}

// OfferResponse is the successful SDP answer response.
type OfferResponse struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	WebrtcID string `json:"webrtc_id"`
}

// FailureMeta carries the admission-rejection detail from spec §4.7.
type FailureMeta struct {
	Error string `json:"error"`
	Limit int    `json:"limit,omitempty"`
}

// FailureResponse is returned with HTTP 200 on admission rejection (spec
// §4.7: "no session state is created", "HTTP 200 (WebRTC)").
type FailureResponse struct {
	Status string      `json:"status"`
	Meta   FailureMeta `json:"meta"`
}

// WSEvent is the spec §4.8 WebSocket framing: {event:"start"|"media"|"stop", ...}.
type WSEvent struct {
	Event      string    `json:"event"`
	WebsocketID string   `json:"websocket_id,omitempty"`
	Media      *WSMedia  `json:"media,omitempty"`
}

// WSMedia carries one base64 mu-law@8kHz payload.
type WSMedia struct {
	Payload string `json:"payload"`
}

// InputHookRequest is the spec §6 input hook body: "MUST carry
// {webrtc_id, ...}; server maps to set_input(webrtc_id, rest)" — Inputs is
// the "rest" the handler's generator observes as inputs[1:] (spec §8
// scenario 5: POST {webrtc_id, inputs:[..., 0.7]}).
type InputHookRequest struct {
	WebrtcID string `json:"webrtc_id"`
	Inputs   []any  `json:"inputs"`
}
