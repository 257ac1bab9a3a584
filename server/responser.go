// File: server/responser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Responser delivers classified handler output. Every delivery goes
// through the ack manager, so each frame carries a tracked message id.

package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/handlers"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/transport"
)

// TargetGone is sent to the sender when a direct recipient disconnected
// after routing.
const TargetGone = handlers.ErrorPrefix + " Recipient is no longer online"

// Registry resolves and tears down connections by id.
type Registry interface {
	Remover
	Connection(id int) (*transport.Conn, bool)
}

// Membership lists room members and evicts stale ones.
type Membership interface {
	Members(room string) []int
	Remove(room string, id int)
}

// Deliverer tags, tracks and sends one payload.
type Deliverer interface {
	Deliver(conn *transport.Conn, payload string, senderID int) (string, error)
}

// Responser is the final pipeline stage.
type Responser struct {
	in       *concurrency.SignalQueue[HandlerResponse]
	registry Registry
	rooms    Membership
	acks     Deliverer
	poll     time.Duration
	metrics  *control.MetricsRegistry
	log      zerolog.Logger
}

func NewResponser(
	in *concurrency.SignalQueue[HandlerResponse],
	registry Registry,
	rooms Membership,
	acks Deliverer,
	poll time.Duration,
	metrics *control.MetricsRegistry,
	log zerolog.Logger,
) *Responser {
	if metrics == nil {
		metrics = control.NewMetricsRegistry()
	}
	return &Responser{in: in, registry: registry, rooms: rooms, acks: acks, poll: poll, metrics: metrics, log: log}
}

// Run delivers responses until the queue is stopped and drained.
func (r *Responser) Run() {
	for {
		resp, ok := r.in.Pop(r.poll)
		if !ok {
			if r.in.Stopped() {
				return
			}
			continue
		}
		r.Dispatch(resp)
	}
}

// Dispatch sends one response according to its destination and returns
// the number of frames handed to connections.
func (r *Responser) Dispatch(resp HandlerResponse) int {
	switch resp.Dest {
	case ReplyToSender, ErrorToSender:
		return r.deliver(resp.Conn, resp.Text, resp.SourceID)
	case DirectToTarget:
		target, ok := r.registry.Connection(resp.TargetID)
		if !ok || target.IsClosed() {
			return r.deliver(resp.Conn, TargetGone, resp.SourceID)
		}
		return r.deliver(target, resp.Text, resp.SourceID)
	case BroadcastToRoom:
		return r.broadcast(resp)
	}
	r.log.Warn().Stringer("dest", resp.Dest).Msg("unknown destination")
	return 0
}

func (r *Responser) broadcast(resp HandlerResponse) int {
	sent := 0
	for _, id := range r.rooms.Members(resp.Room) {
		if id == resp.ExcludeID {
			continue
		}
		c, ok := r.registry.Connection(id)
		if !ok || c.IsClosed() {
			r.rooms.Remove(resp.Room, id)
			r.metrics.Inc("responser.evicted")
			continue
		}
		sent += r.deliver(c, resp.Text, resp.SourceID)
	}
	r.metrics.Inc("responser.broadcasts")
	return sent
}

func (r *Responser) deliver(c *transport.Conn, text string, sourceID int) int {
	if c == nil || c.IsClosed() {
		r.metrics.Inc("responser.skipped_closed")
		return 0
	}
	id, err := r.acks.Deliver(c, text, sourceID)
	if err != nil {
		ev := r.log.Warn()
		if transport.IsTerminal(err) {
			ev = r.log.Debug()
		}
		ev.Int("conn", c.ID()).Str("msg_id", id).Err(err).Msg("send failed, closing")
		r.metrics.Inc("responser.send_errors")
		r.registry.Remove(c)
		return 0
	}
	r.metrics.Inc("responser.sent")
	return 1
}
