/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package transport

// Signal types exchanged with the signaling broker.
const (
	SignalID     = "id"     // broker -> client: your peer id
	SignalOffer  = "offer"  // client -> broker -> target
	SignalAnswer = "answer" // client -> broker -> target
	SignalError  = "error"  // broker -> client: target unknown, rate limited, ...
)

// Signal is the envelope relayed by the broker. The broker fills in From;
// clients address messages with Target.
type Signal struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	From     string            `json:"from,omitempty"`
	Target   string            `json:"target,omitempty"`
	SDP      string            `json:"sdp,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Message  string            `json:"message,omitempty"`
}
