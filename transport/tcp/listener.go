//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - Linux accept loop on raw sockets.

package tcp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/reactor"
)

// ListenerConfig holds configuration for the TCP listener.
type ListenerConfig struct {
	Addr        string                // TCP address to bind (e.g., ":8080")
	Backlog     int                   // listen(2) backlog, default SOMAXCONN
	AcceptRates map[time.Duration]int // per peer IP; nil disables throttling
	Logger      zerolog.Logger
}

// ConnHandler receives each accepted non-blocking descriptor.
type ConnHandler func(fd int, remote string)

// Listener is a listening socket driven by a reactor.
//
// A spare descriptor is held open so that, when the process runs out of
// descriptors, a pending connection can still be accepted and dropped.
// Otherwise it would sit in the backlog and, with edge-triggered
// readiness, the listener would never be woken again.
type Listener struct {
	fd      int
	cfg     ListenerConfig
	log     zerolog.Logger
	limiter *catrate.Limiter
	mux     reactor.Multiplexer
	handler ConnHandler
	accept  func(fd, flags int) (int, unix.Sockaddr, error)

	spareMu sync.Mutex
	spare   int

	closed    atomic.Bool
	accepted  atomic.Int64
	throttled atomic.Int64
	shed      atomic.Int64
}

// Listen binds and listens on cfg.Addr.
func Listen(cfg ListenerConfig) (*Listener, error) {
	sa, family, err := resolve(cfg.Addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("tcp socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp bind %s: %w", cfg.Addr, err)
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	l := &Listener{fd: fd, cfg: cfg, log: cfg.Logger, accept: unix.Accept4, spare: openSpare()}
	if len(cfg.AcceptRates) > 0 {
		l.limiter = catrate.NewLimiter(cfg.AcceptRates)
	}
	return l, nil
}

func resolve(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("tcp address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, 0, fmt.Errorf("tcp address %q: invalid port", addr)
	}
	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("tcp address %q: host must be an IP literal", addr)
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

// Start registers the listening socket with mux.
func (l *Listener) Start(mux reactor.Multiplexer, handler ConnHandler) error {
	l.mux = mux
	l.handler = handler
	if err := mux.AddFd(l.fd, nil, l.onAccept); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}
	l.log.Info().Str("addr", l.Addr()).Msg("listening")
	return nil
}

// onAccept drains the accept queue; the socket is edge-triggered.
func (l *Listener) onAccept(int) {
	for !l.closed.Load() {
		nfd, sa, err := l.accept(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
				return
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
				if !l.shedOne() {
					return
				}
				continue
			default:
				l.log.Error().Err(err).Msg("accept failed")
				return
			}
		}
		ip, remote := peer(sa)
		if l.limiter != nil {
			if next, ok := l.limiter.Allow(ip); !ok {
				l.throttled.Add(1)
				l.log.Warn().Str("peer", remote).Time("retry_at", next).Msg("accept throttled")
				unix.Close(nfd)
				continue
			}
		}
		if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			l.log.Debug().Err(err).Int("fd", nfd).Msg("TCP_NODELAY not set")
		}
		l.accepted.Add(1)
		l.handler(nfd, remote)
	}
}

func openSpare() int {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1
	}
	return fd
}

// shedOne frees the spare descriptor, accepts and immediately closes one
// pending connection, then takes the spare back. It reports whether a
// connection was shed.
func (l *Listener) shedOne() bool {
	l.spareMu.Lock()
	defer l.spareMu.Unlock()
	if l.spare < 0 {
		l.log.Error().Msg("descriptor limit reached, no spare to shed with")
		return false
	}
	unix.Close(l.spare)
	nfd, sa, err := l.accept(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == nil {
		unix.Close(nfd)
	}
	l.spare = openSpare()
	if err != nil {
		l.log.Error().Err(err).Msg("accept failed while shedding")
		return false
	}
	_, remote := peer(sa)
	l.shed.Add(1)
	l.log.Warn().Str("peer", remote).Msg("descriptor limit reached, connection dropped")
	return true
}

func peer(sa unix.Sockaddr) (ip, remote string) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip = net.IP(a.Addr[:]).String()
		return ip, net.JoinHostPort(ip, strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		ip = net.IP(a.Addr[:]).String()
		return ip, net.JoinHostPort(ip, strconv.Itoa(a.Port))
	}
	return "unknown", "unknown"
}

// Addr returns the bound address, with the kernel-chosen port for ":0".
func (l *Listener) Addr() string {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return l.cfg.Addr
	}
	_, remote := peer(sa)
	return remote
}

// Stats returns accept counters.
func (l *Listener) Stats() map[string]int64 {
	return map[string]int64{
		"accepted":  l.accepted.Load(),
		"throttled": l.throttled.Load(),
		"shed":      l.shed.Load(),
	}
}

// Close deregisters and closes the listening socket.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.mux != nil {
		l.mux.RemoveFd(l.fd)
	}
	l.spareMu.Lock()
	if l.spare >= 0 {
		unix.Close(l.spare)
		l.spare = -1
	}
	l.spareMu.Unlock()
	return unix.Close(l.fd)
}
