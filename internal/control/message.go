// Package control implements the spec §4.6 Control Channel (C6): the
// reliable, ordered JSON message bus that rides the WebRTC data channel
// named "text" or the WebSocket itself, carrying ControlMsg{type, data}.
package control

import "encoding/json"

// Type is one of the recognized ControlMsg.type values from spec §3/§4.6.
type Type string

const (
	TypeSendInput         Type = "send_input"
	TypeFetchOutput       Type = "fetch_output"
	TypeStopword          Type = "stopword"
	TypeError             Type = "error"
	TypeWarning           Type = "warning"
	TypeLog               Type = "log"
	TypePauseDetected     Type = "pause_detected"
	TypeResponseStarting  Type = "response_starting"
	TypeConnectionTimeout Type = "connection_timeout"
)

// Message is the wire shape {type, data} from spec §3. Data may be a
// string or an arbitrary JSON-serializable object.
type Message struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Encode is the explicit encode path used when writing to the data
// channel / WebSocket frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func NewError(text string) *Message   { return &Message{Type: TypeError, Data: text} }
func NewWarning(text string) *Message { return &Message{Type: TypeWarning, Data: text} }
func NewLog(text string) *Message     { return &Message{Type: TypeLog, Data: text} }

// NewSendInput is the server->client "fetch fresh inputs" request.
func NewSendInput() *Message { return &Message{Type: TypeSendInput} }

// NewFetchOutput notifies the client that an AdditionalOutputs entry is
// queued and can be pulled from the output hook.
func NewFetchOutput() *Message { return &Message{Type: TypeFetchOutput} }

// NewStopword reports the matched token from the C3 Stopword Detector.
func NewStopword(word string) *Message { return &Message{Type: TypeStopword, Data: word} }

// NewPauseDetected / NewResponseStarting are the ReplyOnPause lifecycle
// logs from spec §4.4.
func NewPauseDetected() *Message    { return &Message{Type: TypePauseDetected} }
func NewResponseStarting() *Message { return &Message{Type: TypeResponseStarting} }

// NewConnectionTimeout is emitted by the client watchdog (spec §4.6) when
// the peer has not reached "connected" within 5s.
func NewConnectionTimeout() *Message { return &Message{Type: TypeConnectionTimeout} }
