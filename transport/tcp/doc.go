// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the non-blocking TCP acceptor of the chat server.
// The listening socket is registered with the reactor; every readiness
// event accepts until the kernel queue is empty, applies per-peer accept
// throttling and hands the new descriptor to the server.
package tcp
