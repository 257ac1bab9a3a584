//go:build unix

package handlers_test

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-chat/fake"
	"github.com/momentics/hioload-chat/handlers"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/store"
	"github.com/momentics/hioload-chat/transport"
)

type env struct {
	set      *handlers.Set
	table    map[protocol.CommandType]handlers.HandlerFunc
	presence *session.Registry
	rooms    *session.Rooms
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := store.DefaultWorkerConfig()
	cfg.BcryptCost = bcrypt.MinCost
	w := store.NewWorker(store.NewMemory(), cfg, zerolog.Nop())
	t.Cleanup(func() { _ = w.Stop() })
	e := &env{presence: session.NewRegistry(4), rooms: session.NewRooms()}
	e.set = handlers.New(handlers.Deps{
		Presence: e.presence,
		Rooms:    e.rooms,
		Accounts: w,
		Logger:   zerolog.Nop(),
	})
	e.table = e.set.Table()
	return e
}

func (e *env) run(t *testing.T, c *transport.Conn, line string) string {
	t.Helper()
	cmd, err := protocol.Parse(line)
	require.NoError(t, err)
	h, ok := e.table[cmd.Type]
	require.True(t, ok, "no handler for %s", cmd.Type)
	return h(c, cmd)
}

func conn(fd int) *transport.Conn {
	return transport.NewConn(fake.NewSocket(fd), "test")
}

func TestTableCoversEveryCommand(t *testing.T) {
	e := newEnv(t)
	for _, ct := range protocol.CommandTypes() {
		assert.Contains(t, e.table, ct, ct.String())
	}
	assert.NotContains(t, e.table, protocol.CmdUnknown)
}

func TestRegisterLoginLogout(t *testing.T) {
	e := newEnv(t)
	c := conn(5)

	assert.True(t, handlers.IsError(e.run(t, c, "/register al x")))
	assert.Contains(t, e.run(t, c, "/register al secret1"), "3-20 characters")
	assert.Contains(t, e.run(t, c, "/register al!ce secret1"), "letters, digits")
	assert.Contains(t, e.run(t, c, "/register alice short"), "at least 6")
	assert.Contains(t, e.run(t, c, "/register alice secret1"), "Registration successful")
	assert.Equal(t, "Error: Username already exists", e.run(t, c, "/register alice secret1"))

	assert.Equal(t, "Error: Invalid username or password", e.run(t, c, "/login alice wrongpw"))
	assert.Equal(t, "Login successful. Welcome, alice!", e.run(t, c, "/login alice secret1"))
	assert.Equal(t, "Error: Already logged in as alice", e.run(t, c, "/login alice secret1"))

	other := conn(6)
	assert.Equal(t, "Error: User alice is already logged in", e.run(t, other, "/login alice secret1"))

	assert.Equal(t, "Online users (1): alice", e.run(t, c, "/list_users"))
	assert.Equal(t, "Logged out. Goodbye, alice!", e.run(t, c, "/logout"))
	assert.Equal(t, "Error: Not logged in", e.run(t, c, "/logout"))
	assert.Equal(t, "No users online", e.run(t, c, "/list_users"))
}

func TestUsageErrors(t *testing.T) {
	e := newEnv(t)
	c := conn(7)
	assert.Equal(t, "Error: Usage: /login <username> <password>", e.run(t, c, "/login alice"))
	assert.Equal(t, "Error: Usage: /private_chat <username> <message>", e.run(t, c, "/private_chat bob"))
	assert.Equal(t, "Error: Usage: /public_chat <message>", e.run(t, c, "/public_chat"))
}

func TestPublicChatNeedsRoom(t *testing.T) {
	e := newEnv(t)
	c := conn(8)
	assert.Equal(t, "Error: Not in a room, use /join [room]", e.run(t, c, "hello"))
	assert.Equal(t, "Joined room lobby (1 members)", e.run(t, c, "/join"))
	guest := fmt.Sprintf("guest%d", c.ID())
	assert.Equal(t, "[Public] "+guest+": hello world", e.run(t, c, "hello world"))
	assert.Equal(t, "[Public] "+guest+": quoted text", e.run(t, c, `/public_chat "quoted text"`))
}

func TestPrivateChat(t *testing.T) {
	e := newEnv(t)
	alice, bob := conn(10), conn(11)
	require.NoError(t, e.presence.Login(alice.ID(), "alice"))
	require.NoError(t, e.presence.Login(bob.ID(), "bob"))

	assert.Equal(t, "[Private] alice: hi bob", e.run(t, alice, "/private_chat bob hi bob"))
	assert.Equal(t, "Error: User carol is not online", e.run(t, alice, "/private_chat carol hi"))
	assert.Equal(t, "Error: Cannot send a private message to yourself", e.run(t, alice, "/private_chat alice hi"))
}

func TestRooms(t *testing.T) {
	e := newEnv(t)
	a, b := conn(20), conn(21)
	require.NoError(t, e.presence.Login(a.ID(), "alice"))
	assert.Equal(t, "Joined room golang (1 members)", e.run(t, a, "/join golang"))
	assert.Equal(t, "Error: Already in room golang", e.run(t, a, "/join golang"))
	assert.Equal(t, "Joined room golang (2 members)", e.run(t, b, "/join golang"))
	assert.Equal(t, fmt.Sprintf("Users in golang (2): alice, guest%d", b.ID()), e.run(t, a, "/room_users"))
	assert.True(t, handlers.IsError(e.run(t, a, "/join bad/room")))
	assert.Equal(t, "Left room golang", e.run(t, b, "/leave"))
	assert.Equal(t, "Error: Not in a room", e.run(t, b, "/leave"))
	assert.Equal(t, "Error: Not in a room", e.run(t, b, "/room_users"))
}

func TestHelp(t *testing.T) {
	e := newEnv(t)
	out := e.run(t, conn(30), "/help")
	for _, u := range protocol.AvailableCommands() {
		assert.Contains(t, out, u)
	}
}
