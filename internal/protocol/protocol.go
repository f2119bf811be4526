// Package protocol holds the admin edit wire format served by cmd/server.
// Observer stream messages live in observerproto.
package protocol

import "encoding/json"

const Version = "0.1"

// Message types.
const (
	TypePlace  = "PLACE"
	TypeRemove = "REMOVE"
	TypeValve  = "VALVE"
	TypePump   = "PUMP"
)

// BaseMessage lets handlers route unknown JSON bodies by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// EditRequest is the body of POST /v1/admin/{place,remove,valve,pump}.
// Kind, Facing and Connectors apply to PLACE; On to VALVE and PUMP.
type EditRequest struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	Pos             [3]int   `json:"pos"`
	Kind            string   `json:"kind,omitempty"`
	Facing          string   `json:"facing,omitempty"`
	Connectors      []string `json:"connectors,omitempty"`
	On              bool     `json:"on,omitempty"`
}

type EditResponse struct {
	OK       bool     `json:"ok"`
	Tick     uint64   `json:"tick"`
	Networks []uint64 `json:"networks"`
	Code     string   `json:"code,omitempty"`
	Error    string   `json:"error,omitempty"`
}
