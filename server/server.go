//go:build linux
// +build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server wires the pipeline:
//
//	acceptor -> reactor -> ingress -> router -> workers -> responser
//
// with the ack manager and the persistence worker on the side.

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/delivery"
	"github.com/momentics/hioload-chat/handlers"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/internal/logging"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/reactor"
	"github.com/momentics/hioload-chat/store"
	"github.com/momentics/hioload-chat/transport"
	"github.com/momentics/hioload-chat/transport/tcp"
)

var ErrAlreadyRunning = errors.New("server already running")

// Server is the chat server.
type Server struct {
	cfg     control.Config
	log     zerolog.Logger
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	mux      reactor.Multiplexer
	listener *tcp.Listener
	presence *session.Registry
	rooms    *session.Rooms
	acks     *delivery.Manager
	store    *store.Worker
	sendPool *concurrency.Executor

	incoming  *concurrency.SignalQueue[Message]
	requests  map[protocol.CommandType]*concurrency.SignalQueue[HandlerRequest]
	responses *concurrency.SignalQueue[HandlerResponse]

	ingress   *Ingress
	router    *Router
	workers   []*Worker
	responser *Responser

	routerWG    sync.WaitGroup
	workersWG   sync.WaitGroup
	responserWG sync.WaitGroup
	muxDone     chan error
	monitorStop chan struct{}
	monitorWG   sync.WaitGroup

	running      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds every component and performs startup recovery. Nothing runs
// until Start.
func New(cfg control.Config, log zerolog.Logger, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.metrics == nil {
		o.metrics = control.NewMetricsRegistry()
	}
	if o.probes == nil {
		o.probes = control.NewDebugProbes()
	}
	s := &Server{
		cfg:         cfg,
		log:         logging.Component(log, "server"),
		metrics:     o.metrics,
		probes:      o.probes,
		presence:    session.NewRegistry(16),
		rooms:       session.NewRooms(),
		incoming:    concurrency.NewSignalQueue[Message](),
		requests:    make(map[protocol.CommandType]*concurrency.SignalQueue[HandlerRequest]),
		responses:   concurrency.NewSignalQueue[HandlerResponse](),
		muxDone:     make(chan error, 1),
		monitorStop: make(chan struct{}),
	}

	backend := o.backend
	if backend == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		b, err := store.Open(ctx, store.Config{
			Driver:   cfg.Store.Driver,
			Path:     cfg.Store.Path,
			Postgres: cfg.Store.Postgres,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		backend = b
	}
	s.store = store.NewWorker(backend, store.WorkerConfig{
		RequestTimeout: cfg.Store.RequestTimeout,
		OpTimeout:      cfg.Store.RequestTimeout,
		BatchSize:      cfg.Store.BatchSize,
		BcryptCost:     cfg.Store.BcryptCost,
	}, logging.Component(log, "store"))

	s.acks = delivery.NewManager(delivery.Config{
		AckTimeout:   cfg.Delivery.AckTimeout,
		MaxRetries:   cfg.Delivery.MaxRetries,
		ScanInterval: cfg.Delivery.ScanInterval,
	}, s.store, logging.Component(log, "acks"))
	if err := s.recoverPending(); err != nil {
		_ = s.store.Stop()
		return nil, err
	}

	mux, err := reactor.New(reactor.Options{
		PollTimeout: cfg.Pipeline.PollInterval,
		MaxEvents:   256,
		PinCPU:      cfg.Server.ReactorCPU,
		Logger:      logging.Component(log, "reactor"),
	})
	if err != nil {
		_ = s.store.Stop()
		return nil, err
	}
	s.mux = mux
	s.mux.OnRemove(s.onRemove)
	s.acks.OnSendError(func(c *transport.Conn, err error) {
		s.mux.Remove(c)
	})

	s.sendPool = concurrency.NewExecutor(cfg.Server.SendWorkers)
	s.sendPool.OnPanic(func(r any) {
		s.log.Error().Interface("panic", r).Msg("send task panicked")
	})

	poll := cfg.Pipeline.PollInterval
	table := handlers.New(handlers.Deps{
		Presence: s.presence,
		Rooms:    s.rooms,
		Accounts: s.store,
		Timeout:  cfg.Store.RequestTimeout,
		Logger:   logging.Component(log, "handlers"),
	}).Table()
	for t, h := range o.overrides {
		table[t] = h
	}
	for _, t := range protocol.CommandTypes() {
		h, ok := table[t]
		if !ok {
			continue
		}
		q := concurrency.NewSignalQueue[HandlerRequest]()
		s.requests[t] = q
		s.workers = append(s.workers, NewWorker(t, h, q, s.responses, s.rooms, poll, s.metrics, logging.Component(log, "worker")))
	}
	s.ingress = NewIngress(s.mux, s.acks, s.incoming, s.metrics, logging.Component(log, "ingress"))
	s.router = NewRouter(s.incoming, s.requests, s.responses, s.presence, poll, s.metrics, logging.Component(log, "router"))
	s.responser = NewResponser(s.responses, s.mux, s.rooms, s.acks, poll, s.metrics, logging.Component(log, "responser"))

	s.listener, err = tcp.Listen(tcp.ListenerConfig{
		Addr:        cfg.Server.Addr,
		Backlog:     cfg.Server.Backlog,
		AcceptRates: cfg.Server.AcceptRates(),
		Logger:      logging.Component(log, "acceptor"),
	})
	if err != nil {
		s.sendPool.Close()
		_ = s.mux.Close()
		_ = s.store.Stop()
		return nil, err
	}
	s.registerProbes()
	return s, nil
}

// recoverPending fails deliveries left open by a previous run and moves
// the id counter past every persisted id.
func (s *Server) recoverPending() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	recs, err := s.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending deliveries: %w", err)
	}
	for _, r := range recs {
		s.store.UpdateStatus(r.MessageID, api.StatusFailed)
	}
	last, err := s.store.LastMessageID(ctx)
	if err != nil {
		return fmt.Errorf("last message id: %w", err)
	}
	if seq, ok := protocol.ParseMessageID(last); ok {
		s.acks.Seed(seq + 1)
	}
	if len(recs) > 0 || last != "" {
		s.log.Info().Int("failed", len(recs)).Str("last_id", last).Msg("recovered delivery journal")
	}
	return nil
}

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("server.connections", func() any { return s.mux.Count() })
	s.probes.RegisterProbe("server.online", func() any { return s.presence.Count() })
	s.probes.RegisterProbe("server.rooms", func() any { return s.rooms.List() })
	s.probes.RegisterProbe("delivery.stats", func() any { return s.acks.Stats() })
	s.probes.RegisterProbe("send_pool.stats", func() any { return s.sendPool.Stats() })
	s.probes.RegisterProbe("accept.stats", func() any { return s.listener.Stats() })
	s.probes.RegisterProbe("queues", func() any { return s.QueueDepths() })
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr() }

// Probes exposes the debug probe registry.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Metrics exposes the pipeline counters.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// Start launches every goroutine and begins accepting.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := s.listener.Start(s.mux, s.accept); err != nil {
		s.running.Store(false)
		return err
	}
	s.routerWG.Add(1)
	go func() {
		defer s.routerWG.Done()
		s.router.Run()
	}()
	for _, w := range s.workers {
		s.workersWG.Add(1)
		go func(w *Worker) {
			defer s.workersWG.Done()
			w.Run()
		}(w)
	}
	s.responserWG.Add(1)
	go func() {
		defer s.responserWG.Done()
		s.responser.Run()
	}()
	s.acks.Start()
	go func() { s.muxDone <- s.mux.Run() }()
	s.startMonitor()
	s.log.Info().Str("addr", s.Addr()).Str("write_mode", s.cfg.Server.WriteMode).
		Int("workers", len(s.workers)).Msg("chat server started")
	return nil
}

// Run starts the server and blocks until ctx is done or the reactor fails,
// then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-s.muxDone:
		// reactor exited on its own; put the result back for Shutdown
		s.muxDone <- runErr
	}
	if err := s.Shutdown(); err != nil {
		return err
	}
	return runErr
}

// accept runs on the poll goroutine for every new socket.
func (s *Server) accept(fd int, remote string) {
	c := transport.NewConn(transport.NewFdSocket(fd), remote)
	c.SetSendPool(s.sendPool)
	c.OnError(func(c *transport.Conn, err error) {
		ev := s.log.Warn()
		if transport.IsTerminal(err) {
			ev = s.log.Debug()
		}
		ev.Int("conn", c.ID()).Err(err).Msg("background send failed")
		s.mux.Remove(c)
	})
	if err := s.mux.AddFd(fd, c, s.ingress.OnReadable(c)); err != nil {
		s.log.Error().Int("fd", fd).Err(err).Msg("register connection")
		c.Close()
		return
	}
	if s.cfg.Server.WriteMode == control.WriteModePool {
		c.BindWriteInterest(nil)
	}
	s.metrics.Inc("server.accepted")
	s.log.Debug().Int("fd", fd).Int("conn", c.ID()).Str("peer", remote).Msg("connection accepted")

	if room := s.cfg.Server.AutoJoinRoom; room != "" {
		s.rooms.Join(c.ID(), room)
	}
	if s.cfg.Server.Welcome != "" {
		if _, err := s.acks.Deliver(c, s.cfg.Server.Welcome, NoTarget); err != nil {
			s.mux.Remove(c)
		}
	}
}

// onRemove clears session state of a torn-down connection.
func (s *Server) onRemove(c *transport.Conn) {
	name, loggedIn := s.presence.Logout(c.ID())
	room, inRoom := s.rooms.Leave(c.ID())
	s.metrics.Inc("server.disconnected")
	ev := s.log.Debug().Int("conn", c.ID())
	if loggedIn {
		ev = ev.Str("user", name)
	}
	if inRoom {
		ev = ev.Str("room", room)
	}
	ev.Msg("connection cleaned up")
}

// QueueDepths reports the length of every pipeline queue.
func (s *Server) QueueDepths() map[string]int {
	out := map[string]int{
		"incoming":  s.incoming.Len(),
		"responses": s.responses.Len(),
		"store":     s.store.QueueLen(),
	}
	for t, q := range s.requests {
		out[t.String()] = q.Len()
	}
	return out
}

func (s *Server) startMonitor() {
	interval := s.cfg.Pipeline.StatsInterval
	if interval <= 0 {
		return
	}
	s.monitorWG.Add(1)
	go func() {
		defer s.monitorWG.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-s.monitorStop:
				return
			case <-t.C:
				s.report()
			}
		}
	}()
}

func (s *Server) report() {
	depths := s.QueueDepths()
	threshold := s.cfg.Pipeline.QueueWarnThreshold
	d := zerolog.Dict()
	for name, n := range depths {
		d = d.Int(name, n)
		s.metrics.Set("queue."+name, n)
		if threshold > 0 && n > threshold {
			s.log.Warn().Str("queue", name).Int("depth", n).Int("threshold", threshold).Msg("queue usage high")
		}
	}
	s.metrics.Set("server.connections", s.mux.Count())
	s.metrics.Set("delivery.pending", s.acks.PendingCount())
	s.log.Info().Dict("queues", d).
		Int("connections", s.mux.Count()).
		Int("online", s.presence.Count()).
		Int("pending_acks", s.acks.PendingCount()).
		Msg("pipeline stats")
}

// Shutdown stops the server in pipeline order: reactor, queues (each stage
// drains before the next is stopped), ack scanner, persistence, and finally
// the remaining connections. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.log.Info().Msg("shutting down")
		_ = s.listener.Close()
		s.mux.Stop()
		if s.running.Load() {
			if err := <-s.muxDone; err != nil {
				s.log.Error().Err(err).Msg("reactor stopped with error")
			}
		}
		close(s.monitorStop)
		s.monitorWG.Wait()

		s.incoming.Push(Message{Kind: Shutdown})
		s.incoming.Stop()
		s.routerWG.Wait()
		for _, q := range s.requests {
			q.Stop()
		}
		s.workersWG.Wait()
		s.responses.Stop()
		s.responserWG.Wait()

		s.acks.Stop()
		s.sendPool.Close()

		for _, c := range s.mux.Connections() {
			s.mux.Remove(c)
		}
		if err := s.mux.Close(); err != nil {
			s.shutdownErr = err
		}
		if err := s.store.Stop(); err != nil && s.shutdownErr == nil {
			s.shutdownErr = fmt.Errorf("close store: %w", err)
		}
		s.log.Info().Interface("delivery", s.acks.Stats()).Msg("server stopped")
	})
	return s.shutdownErr
}
