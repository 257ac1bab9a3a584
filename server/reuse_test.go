//go:build linux

package server

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/delivery"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/reactor"
	"github.com/momentics/hioload-chat/transport"
)

func pair(t *testing.T) (local, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func readAvailable(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN {
		return ""
	}
	require.NoError(t, err)
	return string(buf[:n])
}

// TestDirectToDepartedUserSkipsReusedDescriptor resolves a private message
// for a user who left, after a new client was accepted on the same fd.
func TestDirectToDepartedUserSkipsReusedDescriptor(t *testing.T) {
	mux, err := reactor.New(reactor.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mux.Close() })

	fd, _ := pair(t)
	alice := transport.NewConn(transport.NewFdSocket(fd), "alice")
	require.NoError(t, mux.AddFd(fd, alice, func(int) {}))
	senderFd, senderPeer := pair(t)
	sender := transport.NewConn(transport.NewFdSocket(senderFd), "sender")
	require.NoError(t, mux.AddFd(senderFd, sender, func(int) {}))

	// routed while alice was online, delivered after she left
	aliceID := alice.ID()
	mux.Remove(alice)

	local, bobPeer := pair(t)
	require.NoError(t, unix.Dup3(local, fd, unix.O_CLOEXEC))
	require.NoError(t, unix.Close(local))
	bob := transport.NewConn(transport.NewFdSocket(fd), "bob")
	require.NoError(t, mux.AddFd(fd, bob, func(int) {}))

	acks := delivery.NewManager(delivery.DefaultConfig(), nil, zerolog.Nop())
	r := NewResponser(concurrency.NewSignalQueue[HandlerResponse](), mux, session.NewRooms(), acks,
		10*time.Millisecond, nil, zerolog.Nop())
	r.Dispatch(HandlerResponse{Conn: sender, Text: "[Private] s: for alice only",
		SourceID: sender.ID(), Dest: DirectToTarget, TargetID: aliceID, ExcludeID: NoTarget})

	assert.Empty(t, readAvailable(t, bobPeer))
	got := readAvailable(t, senderPeer)
	assert.True(t, strings.HasSuffix(got, "|"+TargetGone+"\n"), got)
	assert.False(t, bob.IsClosed())
}
