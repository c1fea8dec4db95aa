package telephony

import (
	"github.com/vonage/vonage-go-sdk/ncco"
)

// VonageStreamNCCO builds the NCCO (Nexmo Call Control Object) Vonage
// expects from an inbound-call webhook: a single connect action to a
// websocket endpoint, matching the same µ-law@8kHz contract the Twilio
// path uses (spec §4.8).
func VonageStreamNCCO(streamURL string) ncco.Ncco {
	endpoint := ncco.NewWebSocketEndpoint(streamURL, "audio/l16;rate=8000", map[string]interface{}{})
	connect := ncco.NewConnectAction(endpoint)
	n := ncco.Ncco{}
	n.AddAction(connect)
	return n
}
