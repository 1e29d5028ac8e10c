package protocol

import (
	"encoding/json"
	"fmt"
)

// Frames exchanged with browser clients over the websocket. These are
// separate from the envelopes passed between the two server units.

// Op is the operation of an inbound client frame
type Op string

const (
	OpSay   Op = "say"
	OpJoin  Op = "join"
	OpLeave Op = "leave"
)

// ClientRequest is a frame sent by a client
type ClientRequest struct {
	Op      Op     `json:"op"`
	Channel int64  `json:"channel"`
	Text    string `json:"text,omitempty"`
}

// ParseClientRequest decodes and checks a client frame
func ParseClientRequest(data []byte) (ClientRequest, error) {
	var req ClientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ClientRequest{}, fmt.Errorf("protocol: decode client frame: %w", err)
	}
	switch req.Op {
	case OpSay:
		if req.Text == "" {
			return ClientRequest{}, fmt.Errorf("%w: say needs text", ErrMissingPayload)
		}
	case OpJoin, OpLeave:
	default:
		return ClientRequest{}, fmt.Errorf("%w: op %q", ErrUnknownType, req.Op)
	}
	return req, nil
}

// Outbound frame types
const (
	FrameSystem = "SYSTEM"
	FrameGlobal = "GLOBAL"
	FrameChat   = "CHAT"
	FrameError  = "ERROR"
)

// ClientMessage is a frame sent to clients
type ClientMessage struct {
	Type    string `json:"type"`
	Channel int64  `json:"channel"`
	From    int64  `json:"from,omitempty"`
	Message string `json:"message"`
}

// Encode serializes the frame
func (m ClientMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
