// Package telephony generates the webhook responses that direct an
// external PSTN provider (Twilio, Vonage) at the GET /telephone/* media
// bridge (spec §4.8/§6: "telephone gateway integration" is an external
// collaborator — this package only builds the provider-specific document
// that points the call at our own WebSocket, it never talks to the
// provider's REST API directly).
package telephony

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// TwilioStreamTwiML builds the TwiML response Twilio expects from an
// inbound-call webhook: a <Connect><Stream> pointing at the telephone
// bridge's WebSocket URL.
func TwilioStreamTwiML(streamURL string) (string, error) {
	stream := &twiml.VoiceStream{Url: streamURL}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("telephony: build twilio twiml: %w", err)
	}
	return doc, nil
}
