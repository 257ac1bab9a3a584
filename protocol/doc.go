// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Line-oriented chat wire format: delivery frames, acknowledgments,
// warnings and slash-command parsing.
//
// Server to client:
//
//	MSG_0000000042|[Public] alice: hi\n
//	0|Warning: Rate limit exceeded. Please slow down.\n
//
// Client to server:
//
//	/login alice secret\n
//	ACK|MSG_0000000042\n
package protocol
