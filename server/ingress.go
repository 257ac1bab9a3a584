// File: server/ingress.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ingress runs on the poll goroutine: it drains readable sockets, frames
// lines and feeds the router queue.

package server

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/reactor"
	"github.com/momentics/hioload-chat/transport"
)

// RateLimitWarning is sent, untracked, for each frame dropped by the limiter.
const RateLimitWarning = "Rate limit exceeded. Please slow down."

const readChunk = 64 << 10

// Remover tears a connection down. Removing a connection that is no
// longer registered is a no-op.
type Remover interface {
	Remove(c *transport.Conn)
}

// AckSink settles acknowledged deliveries.
type AckSink interface {
	AcknowledgeMessage(id string) bool
}

// Ingress turns socket reads into router messages.
type Ingress struct {
	registry Remover
	acks     AckSink
	out      *concurrency.SignalQueue[Message]
	metrics  *control.MetricsRegistry
	log      zerolog.Logger
	buf      []byte
}

func NewIngress(registry Remover, acks AckSink, out *concurrency.SignalQueue[Message], metrics *control.MetricsRegistry, log zerolog.Logger) *Ingress {
	if metrics == nil {
		metrics = control.NewMetricsRegistry()
	}
	return &Ingress{
		registry: registry,
		acks:     acks,
		out:      out,
		metrics:  metrics,
		log:      log,
		buf:      make([]byte, readChunk),
	}
}

// OnReadable returns the reactor read callback for c.
func (in *Ingress) OnReadable(c *transport.Conn) reactor.Callback {
	return func(int) { in.HandleReadable(c) }
}

// HandleReadable reads until the socket would block. EOF, hard errors and
// read buffer overflow tear the connection down.
func (in *Ingress) HandleReadable(c *transport.Conn) {
	for !c.IsClosed() {
		n, err := c.Read(in.buf)
		if n > 0 {
			in.metrics.Add("ingress.bytes", int64(n))
			if aerr := c.AppendReadBuffer(in.buf[:n]); aerr != nil {
				in.log.Warn().Int("conn", c.ID()).Str("peer", c.RemoteAddr()).
					Int("buffered", c.ReadBuffered()).Msg("read buffer overflow, closing")
				in.metrics.Inc("ingress.overflows")
				in.registry.Remove(c)
				return
			}
			in.frames(c)
		}
		switch {
		case err != nil && transport.IsTransient(err):
			return
		case err != nil:
			if transport.IsTerminal(err) {
				in.log.Debug().Int("conn", c.ID()).Err(err).Msg("peer gone")
			} else {
				in.log.Warn().Int("conn", c.ID()).Err(err).Msg("read failed")
			}
			in.registry.Remove(c)
			return
		case n == 0:
			in.log.Debug().Int("conn", c.ID()).Str("peer", c.RemoteAddr()).Msg("peer closed")
			in.registry.Remove(c)
			return
		}
	}
}

func (in *Ingress) frames(c *transport.Conn) {
	for !c.IsClosed() {
		line, ok := c.ExtractCompleteMessage()
		if !ok {
			return
		}
		in.Frame(c, line)
	}
}

// Frame classifies one complete line.
func (in *Ingress) Frame(c *transport.Conn, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if protocol.IsAck(line) {
		id, ok := protocol.ParseAck(line)
		if !ok {
			in.metrics.Inc("ingress.malformed_acks")
			return
		}
		if in.acks.AcknowledgeMessage(id) {
			in.metrics.Inc("ingress.acks")
		}
		return
	}
	if protocol.HasControlChars(line) {
		in.metrics.Inc("ingress.dropped_control")
		return
	}
	if c.IsRateLimited() {
		in.metrics.Inc("ingress.rate_limited")
		if err := c.Send(protocol.WarningFrame(RateLimitWarning)); err != nil {
			in.registry.Remove(c)
		}
		return
	}
	c.RecordMessage()
	if !in.out.Push(Message{Kind: Incoming, Conn: c, Text: line, SourceID: c.ID()}) {
		in.metrics.Inc("ingress.dropped_stopping")
		return
	}
	in.metrics.Inc("ingress.frames")
}
