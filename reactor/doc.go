// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness multiplexer of the chat server: a
// single poll loop owning the registry of live connections, with per-socket
// read and write callbacks. The Linux implementation is epoll based.
package reactor
