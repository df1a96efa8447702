package ws

import (
	"encoding/json"

	"github.com/teamtally/tally/pkg/livesync/registry"
)

// ClientMessage is the frame of every client-to-server message,
// mirroring the server's envelope: {"type": "...", "data": ...}.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	MessageAuthenticate = "Authenticate"
	MessageSubscribe    = "Subscribe"
	MessageUpdate       = "Update"
)

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type SubscribePayload struct {
	Kind registry.Kind `json:"kind"`
}

type UpdatePayload struct {
	Kind  registry.Kind   `json:"kind"`
	Value json.RawMessage `json:"value"`
}
