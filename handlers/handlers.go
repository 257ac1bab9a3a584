// File: handlers/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package handlers implements the chat commands. Each handler turns a parsed
// command into response text; replies starting with "Error:" are routed back
// to the sender only.

package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/transport"
)

// ErrorPrefix marks a response as an error reply.
const ErrorPrefix = "Error:"

// HandlerFunc processes one command for a connection.
type HandlerFunc func(c *transport.Conn, cmd *protocol.Command) string

// Accounts is the persistence side of registration and login.
type Accounts interface {
	RegisterUser(ctx context.Context, username, password string) error
	VerifyLogin(ctx context.Context, username, password string) error
}

// Deps are the services handlers act on.
type Deps struct {
	Presence *session.Registry
	Rooms    *session.Rooms
	Accounts Accounts
	Timeout  time.Duration // bound for account calls, default 5s
	Logger   zerolog.Logger
}

// Set binds the command handlers to their dependencies.
type Set struct {
	d Deps
}

func New(d Deps) *Set {
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Second
	}
	return &Set{d: d}
}

// Table maps every routable command type to its handler.
func (s *Set) Table() map[protocol.CommandType]HandlerFunc {
	return map[protocol.CommandType]HandlerFunc{
		protocol.CmdRegister:    s.Register,
		protocol.CmdLogin:       s.Login,
		protocol.CmdLogout:      s.Logout,
		protocol.CmdListUsers:   s.ListUsers,
		protocol.CmdPublicChat:  s.PublicChat,
		protocol.CmdPrivateChat: s.PrivateChat,
		protocol.CmdJoinRoom:    s.JoinRoom,
		protocol.CmdLeaveRoom:   s.LeaveRoom,
		protocol.CmdRoomUsers:   s.RoomUsers,
		protocol.CmdHelp:        s.Help,
	}
}

// IsError reports whether text is an error reply.
func IsError(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}

func errorf(format string, args ...any) string {
	return ErrorPrefix + " " + fmt.Sprintf(format, args...)
}

func usage(t protocol.CommandType) string {
	for _, u := range protocol.AvailableCommands() {
		if strings.HasPrefix(u, t.String()) {
			return errorf("Usage: %s", u)
		}
	}
	return errorf("Usage: %s", t)
}

// DisplayName is the username, or guest<id> before login.
func (s *Set) DisplayName(id int) string {
	if name, ok := s.d.Presence.Username(id); ok {
		return name
	}
	return "guest" + strconv.Itoa(id)
}

func (s *Set) accountError(err error) string {
	switch api.CodeOf(err) {
	case api.ErrCodeTimeout:
		return errorf("Database timeout")
	case api.ErrCodeAlreadyExists:
		return errorf("Username already exists")
	case api.ErrCodeUnauthorized:
		return errorf("Invalid username or password")
	default:
		s.d.Logger.Error().Err(err).Msg("account operation failed")
		return errorf("Internal server error")
	}
}

func (s *Set) Register(c *transport.Conn, cmd *protocol.Command) string {
	if len(cmd.Args) != 2 {
		return usage(cmd.Type)
	}
	username, password := cmd.Args[0], cmd.Args[1]
	if msg := ValidateUsername(username); msg != "" {
		return errorf("%s", msg)
	}
	if msg := ValidatePassword(password); msg != "" {
		return errorf("%s", msg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.d.Timeout)
	defer cancel()
	if err := s.d.Accounts.RegisterUser(ctx, username, password); err != nil {
		return s.accountError(err)
	}
	s.d.Logger.Info().Int("fd", c.ID()).Str("username", username).Msg("user registered")
	return fmt.Sprintf("Registration successful. You can now /login %s <password>", username)
}

func (s *Set) Login(c *transport.Conn, cmd *protocol.Command) string {
	if len(cmd.Args) != 2 {
		return usage(cmd.Type)
	}
	username, password := cmd.Args[0], cmd.Args[1]
	if cur, ok := s.d.Presence.Username(c.ID()); ok {
		return errorf("Already logged in as %s", cur)
	}
	if msg := ValidateUsername(username); msg != "" {
		return errorf("%s", msg)
	}
	if s.d.Presence.IsOnline(username) {
		return errorf("User %s is already logged in", username)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.d.Timeout)
	defer cancel()
	if err := s.d.Accounts.VerifyLogin(ctx, username, password); err != nil {
		return s.accountError(err)
	}
	if err := s.d.Presence.Login(c.ID(), username); err != nil {
		return errorf("User %s is already logged in", username)
	}
	s.d.Logger.Info().Int("fd", c.ID()).Str("username", username).Msg("user logged in")
	return fmt.Sprintf("Login successful. Welcome, %s!", username)
}

func (s *Set) Logout(c *transport.Conn, _ *protocol.Command) string {
	name, ok := s.d.Presence.Logout(c.ID())
	if !ok {
		return errorf("Not logged in")
	}
	return fmt.Sprintf("Logged out. Goodbye, %s!", name)
}

func (s *Set) ListUsers(_ *transport.Conn, _ *protocol.Command) string {
	users := s.d.Presence.Online()
	if len(users) == 0 {
		return "No users online"
	}
	return fmt.Sprintf("Online users (%d): %s", len(users), strings.Join(users, ", "))
}

// PublicChat formats a room message. Delivery to the room is decided by
// the dispatcher, which excludes the sender.
func (s *Set) PublicChat(c *transport.Conn, cmd *protocol.Command) string {
	text := strings.TrimSpace(cmd.Tail(0))
	if text == "" {
		return usage(cmd.Type)
	}
	if _, ok := s.d.Rooms.RoomOf(c.ID()); !ok {
		return errorf("Not in a room, use /join [room]")
	}
	return fmt.Sprintf("[Public] %s: %s", s.DisplayName(c.ID()), text)
}

// PrivateChat formats a direct message; the target id was resolved by the router.
func (s *Set) PrivateChat(c *transport.Conn, cmd *protocol.Command) string {
	if len(cmd.Args) < 2 {
		return usage(cmd.Type)
	}
	target := cmd.Args[0]
	text := strings.TrimSpace(cmd.Tail(1))
	if text == "" {
		return usage(cmd.Type)
	}
	id, ok := s.d.Presence.Resolve(target)
	if !ok {
		return errorf("User %s is not online", target)
	}
	if id == c.ID() {
		return errorf("Cannot send a private message to yourself")
	}
	return fmt.Sprintf("[Private] %s: %s", s.DisplayName(c.ID()), text)
}

func (s *Set) JoinRoom(c *transport.Conn, cmd *protocol.Command) string {
	room := cmd.Arg(0)
	if room == "" {
		room = session.DefaultRoom
	}
	if msg := ValidateRoom(room); msg != "" {
		return errorf("%s", msg)
	}
	if cur, ok := s.d.Rooms.RoomOf(c.ID()); ok && cur == room {
		return errorf("Already in room %s", room)
	}
	s.d.Rooms.Join(c.ID(), room)
	return fmt.Sprintf("Joined room %s (%d members)", room, s.d.Rooms.Count(room))
}

func (s *Set) LeaveRoom(c *transport.Conn, _ *protocol.Command) string {
	room, ok := s.d.Rooms.Leave(c.ID())
	if !ok {
		return errorf("Not in a room")
	}
	return fmt.Sprintf("Left room %s", room)
}

func (s *Set) RoomUsers(c *transport.Conn, _ *protocol.Command) string {
	room, ok := s.d.Rooms.RoomOf(c.ID())
	if !ok {
		return errorf("Not in a room")
	}
	ids := s.d.Rooms.Members(room)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = s.DisplayName(id)
	}
	return fmt.Sprintf("Users in %s (%d): %s", room, len(names), strings.Join(names, ", "))
}

func (s *Set) Help(_ *transport.Conn, _ *protocol.Command) string {
	return "Available commands: " + strings.Join(protocol.AvailableCommands(), "; ")
}
