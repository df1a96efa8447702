package wire

import (
	domerr "github.com/teamtally/tally/pkg/domain/errors"
)

// Envelope is the frame of every server-to-client message:
//
//	{"type": "...", "data": ...}
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Message  string          `json:"message"`
	Category domerr.Category `json:"category"`
}

func Error(err error) Envelope {
	return Envelope{
		Type: "Error",
		Data: ErrorPayload{
			Message:  err.Error(),
			Category: domerr.CategoryOf(err),
		},
	}
}
