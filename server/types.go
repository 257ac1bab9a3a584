// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pipeline message types passed between the ingress, router, workers and
// responser stages.

package server

import (
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/transport"
)

// NoTarget marks an unresolved destination or an absent exclusion.
const NoTarget = -1

// MessageKind distinguishes client input from control messages.
type MessageKind int

const (
	Incoming MessageKind = iota
	Shutdown
)

// Message is one framed client line on its way to the router.
type Message struct {
	Kind     MessageKind
	Conn     *transport.Conn
	Text     string
	SourceID int
}

// HandlerRequest is a parsed command queued for its worker.
type HandlerRequest struct {
	Conn     *transport.Conn
	Command  *protocol.Command
	SourceID int
	TargetID int // resolved private-chat recipient, NoTarget otherwise
}

// Destination says who receives a HandlerResponse.
type Destination int

const (
	ReplyToSender Destination = iota
	ErrorToSender
	DirectToTarget
	BroadcastToRoom
)

func (d Destination) String() string {
	switch d {
	case ReplyToSender:
		return "reply"
	case ErrorToSender:
		return "error"
	case DirectToTarget:
		return "direct"
	case BroadcastToRoom:
		return "broadcast"
	}
	return "unknown"
}

// HandlerResponse is handler output classified for delivery.
type HandlerResponse struct {
	Conn      *transport.Conn
	Text      string
	SourceID  int
	Dest      Destination
	ExcludeID int // broadcast member to skip, NoTarget for none
	TargetID  int
	Room      string
}

func errorResponse(c *transport.Conn, sourceID int, text string) HandlerResponse {
	return HandlerResponse{
		Conn:      c,
		Text:      text,
		SourceID:  sourceID,
		Dest:      ErrorToSender,
		ExcludeID: NoTarget,
		TargetID:  NoTarget,
	}
}
