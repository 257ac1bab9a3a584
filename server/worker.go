// File: server/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker runs one command handler over its own request queue.

package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/handlers"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/protocol"
)

// InternalError replaces the reply of a handler that panicked.
const InternalError = handlers.ErrorPrefix + " Internal server error"

// RoomLookup finds the room a connection is in.
type RoomLookup interface {
	RoomOf(id int) (string, bool)
}

// Worker executes a single command type.
type Worker struct {
	typ     protocol.CommandType
	handler handlers.HandlerFunc
	in      *concurrency.SignalQueue[HandlerRequest]
	out     *concurrency.SignalQueue[HandlerResponse]
	rooms   RoomLookup
	poll    time.Duration
	metrics *control.MetricsRegistry
	log     zerolog.Logger
}

func NewWorker(
	typ protocol.CommandType,
	handler handlers.HandlerFunc,
	in *concurrency.SignalQueue[HandlerRequest],
	out *concurrency.SignalQueue[HandlerResponse],
	rooms RoomLookup,
	poll time.Duration,
	metrics *control.MetricsRegistry,
	log zerolog.Logger,
) *Worker {
	if metrics == nil {
		metrics = control.NewMetricsRegistry()
	}
	return &Worker{
		typ:     typ,
		handler: handler,
		in:      in,
		out:     out,
		rooms:   rooms,
		poll:    poll,
		metrics: metrics,
		log:     log.With().Str("command", typ.String()).Logger(),
	}
}

// Run processes requests until the queue is stopped and drained.
func (w *Worker) Run() {
	for {
		req, ok := w.in.Pop(w.poll)
		if !ok {
			if w.in.Stopped() {
				return
			}
			continue
		}
		if resp, ok := w.Process(req); ok {
			w.out.Push(resp)
		}
	}
}

// Process runs the handler and classifies its reply. It reports false when
// there is nothing to send.
func (w *Worker) Process(req HandlerRequest) (HandlerResponse, bool) {
	if req.Conn == nil || req.Conn.IsClosed() {
		w.log.Debug().Int("source", req.SourceID).Msg("connection gone, request skipped")
		w.metrics.Inc("worker.skipped_closed")
		return HandlerResponse{}, false
	}
	text := w.invoke(req)
	if text == "" {
		return HandlerResponse{}, false
	}
	w.metrics.Inc("worker." + w.typ.String() + ".handled")
	resp := HandlerResponse{
		Conn:      req.Conn,
		Text:      text,
		SourceID:  req.SourceID,
		Dest:      ReplyToSender,
		ExcludeID: NoTarget,
		TargetID:  NoTarget,
	}
	switch {
	case handlers.IsError(text):
		resp.Dest = ErrorToSender
	case w.typ == protocol.CmdPublicChat:
		room, ok := w.rooms.RoomOf(req.SourceID)
		if !ok {
			// left the room while the request was queued
			return HandlerResponse{}, false
		}
		resp.Dest = BroadcastToRoom
		resp.Room = room
		resp.ExcludeID = req.SourceID
	case w.typ == protocol.CmdPrivateChat:
		resp.Dest = DirectToTarget
		resp.TargetID = req.TargetID
	}
	return resp, true
}

func (w *Worker) invoke(req HandlerRequest) (text string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Int("source", req.SourceID).Msg("handler panicked")
			w.metrics.Inc("worker.panics")
			text = InternalError
		}
	}()
	return w.handler(req.Conn, req.Command)
}
