//go:build linux

package reactor

import (
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/transport"
)

func socketPair(t *testing.T) (local, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func startReactor(t *testing.T) Multiplexer {
	t.Helper()
	opts := DefaultOptions()
	opts.PollTimeout = 20 * time.Millisecond
	r, err := New(opts)
	require.NoError(t, err)
	go func() { _ = r.Run() }()
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// drainReader reads until EAGAIN and removes the fd on EOF.
func drainReader(r Multiplexer, c *transport.Conn, got chan<- string) Callback {
	return func(fd int) {
		buf := make([]byte, 4096)
		for {
			n, err := c.Read(buf)
			if n > 0 {
				got <- string(buf[:n])
				continue
			}
			if err != nil && transport.IsTransient(err) {
				return
			}
			r.RemoveFd(fd)
			return
		}
	}
}

func TestReadReadinessDispatch(t *testing.T) {
	r := startReactor(t)
	local, peer := socketPair(t)
	c := transport.NewConn(transport.NewFdSocket(local), "pair")
	got := make(chan string, 8)
	require.NoError(t, r.AddFd(local, c, drainReader(r, c, got)))

	conn, ok := r.Connection(c.ID())
	require.True(t, ok)
	assert.Same(t, c, conn)
	assert.Equal(t, 1, r.Count())

	_, err := unix.Write(peer, []byte("hello\n"))
	require.NoError(t, err)
	select {
	case s := <-got:
		assert.Equal(t, "hello\n", s)
	case <-time.After(time.Second):
		t.Fatal("read callback not invoked")
	}
}

// TestPeerCloseRunsRemoveHooks covers teardown and registry cleanup.
func TestPeerCloseRunsRemoveHooks(t *testing.T) {
	r := startReactor(t)
	local, peer := socketPair(t)
	c := transport.NewConn(transport.NewFdSocket(local), "pair")
	removed := make(chan int, 1)
	r.OnRemove(func(c *transport.Conn) { removed <- c.ID() })
	require.NoError(t, r.AddFd(local, c, drainReader(r, c, make(chan string, 8))))

	require.NoError(t, unix.Close(peer))
	select {
	case id := <-removed:
		assert.Equal(t, c.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("remove hook not invoked")
	}
	assert.True(t, c.IsClosed())
	_, ok := r.Connection(c.ID())
	assert.False(t, ok)

	// second removal is a no-op
	r.RemoveFd(local)
	assert.Len(t, removed, 0)
}

func TestPanickingCallbackIsContained(t *testing.T) {
	r := startReactor(t)
	local, peer := socketPair(t)
	c := transport.NewConn(transport.NewFdSocket(local), "pair")
	removed := make(chan struct{}, 1)
	r.OnRemove(func(*transport.Conn) { removed <- struct{}{} })
	require.NoError(t, r.AddFd(local, c, func(int) { panic("handler bug") }))

	_, err := unix.Write(peer, []byte("x"))
	require.NoError(t, err)
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("panicking socket was not torn down")
	}
	assert.True(t, c.IsClosed())

	// loop keeps serving other sockets
	local2, peer2 := socketPair(t)
	c2 := transport.NewConn(transport.NewFdSocket(local2), "pair2")
	got := make(chan string, 8)
	require.NoError(t, r.AddFd(local2, c2, drainReader(r, c2, got)))
	_, err = unix.Write(peer2, []byte("still alive"))
	require.NoError(t, err)
	select {
	case s := <-got:
		assert.Equal(t, "still alive", s)
	case <-time.After(time.Second):
		t.Fatal("reactor stopped dispatching after a panic")
	}
}

// TestWriteReadinessDrainsBacklog overfills the socket buffer and expects the
// remainder to arrive once the peer reads.
func TestWriteReadinessDrainsBacklog(t *testing.T) {
	r := startReactor(t)
	local, peer := socketPair(t)
	require.NoError(t, unix.SetsockoptInt(local, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	c := transport.NewConn(transport.NewFdSocket(local), "pair")
	require.NoError(t, r.AddFd(local, c, func(int) {}))

	payload := strings.Repeat("0123456789abcdef", 64*1024)
	require.NoError(t, c.Send([]byte(payload)))
	assert.True(t, c.HasWriteData(), "payload should exceed the socket buffer")

	var received strings.Builder
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(5 * time.Second)
	for received.Len() < len(payload) && time.Now().Before(deadline) {
		n, err := unix.Read(peer, buf)
		if n > 0 {
			received.Write(buf[:n])
			continue
		}
		if err == unix.EAGAIN {
			time.Sleep(time.Millisecond)
		}
	}
	assert.Equal(t, len(payload), received.Len())
	assert.Eventually(t, func() bool { return !c.HasWriteData() }, time.Second, 5*time.Millisecond)
}

func TestStopEndsRun(t *testing.T) {
	opts := DefaultOptions()
	opts.PollTimeout = 10 * time.Millisecond
	r, err := New(opts)
	require.NoError(t, err)
	var exited atomic.Bool
	go func() { _ = r.Run(); exited.Store(true) }()
	time.Sleep(20 * time.Millisecond)
	r.Stop()
	assert.Eventually(t, exited.Load, 200*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, r.Close())
}

func TestDuplicateAdd(t *testing.T) {
	r := startReactor(t)
	local, _ := socketPair(t)
	c := transport.NewConn(transport.NewFdSocket(local), "pair")
	require.NoError(t, r.AddFd(local, c, func(int) {}))
	assert.Error(t, r.AddFd(local, c, func(int) {}))
	assert.Len(t, r.Connections(), 1)
}

// reuseFd opens a fresh socket pair and moves its local end onto fd, the
// way the kernel hands a released descriptor number to the next accept.
func reuseFd(t *testing.T, fd int) (peer int) {
	t.Helper()
	local, peer := socketPair(t)
	require.NoError(t, unix.Dup3(local, fd, unix.O_CLOEXEC))
	require.NoError(t, unix.Close(local))
	return peer
}

func TestReusedDescriptorGetsNewIdentity(t *testing.T) {
	r := startReactor(t)
	fd, _ := socketPair(t)
	alice := transport.NewConn(transport.NewFdSocket(fd), "alice")
	require.NoError(t, r.AddFd(fd, alice, func(int) {}))
	r.Remove(alice)
	require.True(t, alice.IsClosed())

	peer := reuseFd(t, fd)
	bob := transport.NewConn(transport.NewFdSocket(fd), "bob")
	require.NoError(t, r.AddFd(fd, bob, func(int) {}))

	assert.NotEqual(t, alice.ID(), bob.ID())
	assert.Equal(t, alice.Fd(), bob.Fd())
	_, ok := r.Connection(alice.ID())
	assert.False(t, ok, "old id must not resolve to the new socket")
	got, ok := r.Connection(bob.ID())
	require.True(t, ok)
	assert.Same(t, bob, got)

	// a late teardown through the old handle leaves the new one alone
	r.Remove(alice)
	assert.False(t, bob.IsClosed())
	assert.Equal(t, 1, r.Count())

	require.NoError(t, bob.Send([]byte("hi bob\n")))
	buf := make([]byte, 64)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi bob\n", string(buf[:n]))
}

// TestAddReplacesStaleEntry covers a connection closed by a background
// drain before the reactor saw it go.
func TestAddReplacesStaleEntry(t *testing.T) {
	r := startReactor(t)
	removed := make(chan int, 2)
	r.OnRemove(func(c *transport.Conn) { removed <- c.ID() })
	fd, _ := socketPair(t)
	alice := transport.NewConn(transport.NewFdSocket(fd), "alice")
	require.NoError(t, r.AddFd(fd, alice, func(int) {}))
	alice.Close()

	reuseFd(t, fd)
	bob := transport.NewConn(transport.NewFdSocket(fd), "bob")
	require.NoError(t, r.AddFd(fd, bob, func(int) {}))

	select {
	case id := <-removed:
		assert.Equal(t, alice.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("stale connection not cleaned up")
	}
	_, ok := r.Connection(alice.ID())
	assert.False(t, ok)
	assert.Equal(t, []*transport.Conn{bob}, r.Connections())
}

func TestPinPollThreadRange(t *testing.T) {
	_, err := pinPollThread(runtime.NumCPU())
	assert.Error(t, err)
	unpin, err := pinPollThread(0)
	if err == nil {
		unpin()
	}
}

// TestRunWithPinnedThread checks the pinned loop still stops.
func TestRunWithPinnedThread(t *testing.T) {
	opts := DefaultOptions()
	opts.PollTimeout = 10 * time.Millisecond
	opts.PinCPU = 0
	r, err := New(opts)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- r.Run() }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())
	assert.NoError(t, <-done)
}
