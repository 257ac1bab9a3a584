//go:build linux

package tcp

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/reactor"
)

func startMux(t *testing.T) reactor.Multiplexer {
	t.Helper()
	opts := reactor.DefaultOptions()
	opts.PollTimeout = 20 * time.Millisecond
	mux, err := reactor.New(opts)
	require.NoError(t, err)
	go func() { _ = mux.Run() }()
	t.Cleanup(func() { _ = mux.Close() })
	return mux
}

func TestListenerAccepts(t *testing.T) {
	mux := startMux(t)
	l, err := Listen(ListenerConfig{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan string, 4)
	require.NoError(t, l.Start(mux, func(fd int, remote string) {
		accepted <- remote
		unix.Close(fd)
	}))

	c, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer c.Close()
	select {
	case remote := <-accepted:
		host, _, err := net.SplitHostPort(remote)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", host)
	case <-time.After(time.Second):
		t.Fatal("connection not accepted")
	}
	assert.EqualValues(t, 1, l.Stats()["accepted"])
}

// TestListenerThrottlesPerPeer rejects connections above the accept rate.
func TestListenerThrottlesPerPeer(t *testing.T) {
	mux := startMux(t)
	l, err := Listen(ListenerConfig{
		Addr:        "127.0.0.1:0",
		AcceptRates: map[time.Duration]int{time.Minute: 2},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan int, 8)
	require.NoError(t, l.Start(mux, func(fd int, _ string) {
		accepted <- fd
	}))
	for i := 0; i < 4; i++ {
		c, err := net.Dial("tcp", l.Addr())
		require.NoError(t, err)
		defer c.Close()
	}
	assert.Eventually(t, func() bool {
		s := l.Stats()
		return s["accepted"]+s["throttled"] == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, l.Stats()["accepted"])
	assert.EqualValues(t, 2, l.Stats()["throttled"])
	close(accepted)
	for fd := range accepted {
		unix.Close(fd)
	}
}

func TestResolve(t *testing.T) {
	_, fam, err := resolve(":9000")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, fam)
	_, fam, err = resolve("[::1]:9000")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET6, fam)
	_, _, err = resolve("localhost:9000")
	assert.Error(t, err)
	_, _, err = resolve("127.0.0.1:99999")
	assert.Error(t, err)
}

// TestListenerShedsAtDescriptorLimit fails one accept with EMFILE and
// expects the pending client to be dropped rather than left in the backlog.
func TestListenerShedsAtDescriptorLimit(t *testing.T) {
	mux := startMux(t)
	l, err := Listen(ListenerConfig{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer l.Close()
	require.GreaterOrEqual(t, l.spare, 0)

	var exhausted atomic.Bool
	exhausted.Store(true)
	l.accept = func(fd, flags int) (int, unix.Sockaddr, error) {
		if exhausted.CompareAndSwap(true, false) {
			return -1, nil, unix.EMFILE
		}
		return unix.Accept4(fd, flags)
	}
	accepted := make(chan int, 4)
	require.NoError(t, l.Start(mux, func(fd int, _ string) {
		accepted <- fd
		unix.Close(fd)
	}))

	dropped, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer dropped.Close()
	require.NoError(t, dropped.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = dropped.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return l.Stats()["shed"] == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, accepted, 0)

	// the listener keeps accepting afterwards
	next, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer next.Close()
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener stalled after shedding")
	}
}
