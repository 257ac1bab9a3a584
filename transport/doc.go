// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport holds the per-connection state of the chat server:
// read framing, the outbound write queue with partial-write continuation,
// the per-connection rate limiter and the blocking send fallback.
package transport
