// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Slash-command parsing.

package protocol

import (
	"errors"
	"strings"
	"unicode"
)

// CommandType is the closed set of commands the router understands.
type CommandType int

const (
	CmdUnknown CommandType = iota
	CmdRegister
	CmdLogin
	CmdLogout
	CmdListUsers
	CmdPublicChat
	CmdPrivateChat
	CmdJoinRoom
	CmdLeaveRoom
	CmdRoomUsers
	CmdHelp
)

// ErrUnterminatedQuote is returned for input with an open double quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// ErrEmptyCommand is returned for blank input.
var ErrEmptyCommand = errors.New("empty command")

type commandSpec struct {
	typ   CommandType
	name  string
	usage string
}

var commandSpecs = []commandSpec{
	{CmdRegister, "/register", "/register <username> <password>"},
	{CmdLogin, "/login", "/login <username> <password>"},
	{CmdLogout, "/logout", "/logout"},
	{CmdListUsers, "/list_users", "/list_users"},
	{CmdPublicChat, "/public_chat", "/public_chat <message>"},
	{CmdPrivateChat, "/private_chat", "/private_chat <username> <message>"},
	{CmdJoinRoom, "/join", "/join [room]"},
	{CmdLeaveRoom, "/leave", "/leave"},
	{CmdRoomUsers, "/room_users", "/room_users"},
	{CmdHelp, "/help", "/help"},
}

var commandsByName = func() map[string]CommandType {
	m := make(map[string]CommandType, len(commandSpecs))
	for _, s := range commandSpecs {
		m[s.name] = s.typ
	}
	return m
}()

// String returns the slash name of the command.
func (t CommandType) String() string {
	for _, s := range commandSpecs {
		if s.typ == t {
			return s.name
		}
	}
	return "unknown"
}

// CommandTypes lists every routable type.
func CommandTypes() []CommandType {
	out := make([]CommandType, len(commandSpecs))
	for i, s := range commandSpecs {
		out[i] = s.typ
	}
	return out
}

// AvailableCommands returns the usage line of every command.
func AvailableCommands() []string {
	out := make([]string, len(commandSpecs))
	for i, s := range commandSpecs {
		out[i] = s.usage
	}
	return out
}

// Command is a parsed client request. Treat as read-only once parsed.
type Command struct {
	Type CommandType
	Name string
	Args []string
	Raw  string
}

// Arg returns the i-th argument or "".
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Tail joins the arguments from index i with single spaces.
func (c *Command) Tail(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// Parse turns one frame into a Command.
//
// Input starting with '/' is a directive: the first token names the command
// (case-insensitive), the rest are arguments. Any other input is an implicit
// public chat message carrying the trimmed line as its only argument.
func Parse(raw string) (*Command, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil, ErrEmptyCommand
	}
	if line[0] != '/' {
		return &Command{
			Type: CmdPublicChat,
			Name: CmdPublicChat.String(),
			Args: []string{line},
			Raw:  raw,
		}, nil
	}
	tokens, err := Tokenize(line)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(tokens[0])
	return &Command{
		Type: commandsByName[name],
		Name: name,
		Args: tokens[1:],
		Raw:  raw,
	}, nil
}

// Tokenize splits on whitespace. Double quotes group words, a backslash
// makes the next rune literal.
func Tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			started = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			if started {
				tokens = append(tokens, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, ErrUnterminatedQuote
	}
	if escaped {
		cur.WriteRune('\\')
	}
	if started {
		tokens = append(tokens, cur.String())
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}
	return tokens, nil
}
