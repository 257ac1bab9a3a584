// File: server/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Router parses incoming lines and forwards them to the per-command worker
// queues. Anything it cannot route is answered immediately.

package server

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/handlers"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/protocol"
)

// Router dispatches Messages by command type.
type Router struct {
	in       *concurrency.SignalQueue[Message]
	queues   map[protocol.CommandType]*concurrency.SignalQueue[HandlerRequest]
	out      *concurrency.SignalQueue[HandlerResponse]
	presence session.Presence
	poll     time.Duration
	metrics  *control.MetricsRegistry
	log      zerolog.Logger
}

func NewRouter(
	in *concurrency.SignalQueue[Message],
	queues map[protocol.CommandType]*concurrency.SignalQueue[HandlerRequest],
	out *concurrency.SignalQueue[HandlerResponse],
	presence session.Presence,
	poll time.Duration,
	metrics *control.MetricsRegistry,
	log zerolog.Logger,
) *Router {
	if metrics == nil {
		metrics = control.NewMetricsRegistry()
	}
	return &Router{in: in, queues: queues, out: out, presence: presence, poll: poll, metrics: metrics, log: log}
}

// Run loops until a Shutdown message arrives or the input queue is stopped
// and drained.
func (r *Router) Run() {
	for {
		msg, ok := r.in.Pop(r.poll)
		if !ok {
			if r.in.Stopped() {
				return
			}
			continue
		}
		if msg.Kind == Shutdown {
			r.log.Debug().Msg("router shutdown message")
			return
		}
		r.Route(msg)
	}
}

// Route handles one message.
func (r *Router) Route(msg Message) {
	if msg.Conn == nil || msg.Conn.IsClosed() {
		r.metrics.Inc("router.skipped_closed")
		return
	}
	cmd, err := protocol.Parse(msg.Text)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyCommand) {
			return
		}
		r.reject(msg, handlers.ErrorPrefix+" "+capitalize(err.Error()))
		return
	}
	q, ok := r.queues[cmd.Type]
	if !ok {
		r.reject(msg, handlers.ErrorPrefix+" Unknown command "+cmd.Name+
			". Available commands: "+strings.Join(protocol.AvailableCommands(), "; "))
		return
	}
	req := HandlerRequest{Conn: msg.Conn, Command: cmd, SourceID: msg.SourceID, TargetID: NoTarget}
	if cmd.Type == protocol.CmdPrivateChat && len(cmd.Args) > 0 {
		id, online := r.presence.Resolve(cmd.Args[0])
		if !online {
			r.reject(msg, handlers.ErrorPrefix+" User "+cmd.Args[0]+" is not online")
			return
		}
		req.TargetID = id
	}
	if !q.Push(req) {
		r.metrics.Inc("router.dropped_stopping")
		return
	}
	r.metrics.Inc("router.routed")
}

func (r *Router) reject(msg Message, text string) {
	r.metrics.Inc("router.rejected")
	r.out.Push(errorResponse(msg.Conn, msg.SourceID, text))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
