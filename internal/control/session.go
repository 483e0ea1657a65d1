package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Replies written by the control protocol, one per line.
const (
	Prompt                = "> "
	ReplyOK               = "OK"
	ReplyWrongPassword    = "WRONG PASSWORD"
	ReplyPasswordRequired = "PASSWORD REQUIRED"
	ReplyServiceAdded     = "SERVICE ADDED"
	ReplyServiceRemoved   = "SERVICE REMOVED"
	ReplyLimitChanged     = "CONNECTION LIMIT CHANGED"
	ReplyUnknownCommand   = "UNKNOWN COMMAND"
	ReplySingleSession    = "ONLY ONE CONTROL CONNECTION ALLOWED AT A TIME"
	replyErrorPrefix      = "ERROR: "
)

// MaxLineLength is the longest command line a session accepts, newline
// included. Longer lines are discarded and answered with an error.
const MaxLineLength = 4096

// errQuit ends the session loop without an error.
var errQuit = errors.New("quit")

var errLineTooLong = fmt.Errorf("%w: line longer than %d bytes", ErrParse, MaxLineLength)

type command struct {
	usage string
	auth  bool
	run   func(s *session, args []string) error
}

// commands is the protocol grammar, keyed by lower-case command word.
var commands map[string]command

// commandOrder fixes the help listing.
var commandOrder = []string{"password", "add", "remove", "max", "status", "help", "quit"}

func init() {
	commands = map[string]command{
		"password": {usage: "password <password>", run: (*session).cmdPassword},
		"add":      {usage: "add <service> <port>", auth: true, run: (*session).cmdAdd},
		"remove":   {usage: "remove <port>", auth: true, run: (*session).cmdRemove},
		"max":      {usage: "max <maxconnections>", auth: true, run: (*session).cmdMax},
		"status":   {usage: "status", auth: true, run: (*session).cmdStatus},
		"help":     {usage: "help", run: (*session).cmdHelp},
		"quit":     {usage: "quit", run: func(*session, []string) error { return errQuit }},
	}
}

// session is the state of one control connection.
type session struct {
	ctl        *Control
	in         *bufio.Reader
	out        *bufio.Writer
	attempts   *Attempts
	authorized bool
}

func newSession(ctl *Control, rw io.ReadWriter) *session {
	return &session{
		ctl:      ctl,
		in:       bufio.NewReaderSize(rw, MaxLineLength),
		out:      bufio.NewWriter(rw),
		attempts: ctl.secret.Attempts(),
	}
}

// run reads and executes commands until quit or end of input.
func (s *session) run() error {
	for {
		s.out.WriteString(Prompt)
		if err := s.out.Flush(); err != nil {
			return err
		}
		line, readErr := s.readLine()
		if errors.Is(readErr, errLineTooLong) {
			s.reply(replyErrorPrefix + readErr.Error())
			continue
		}
		if readErr != nil && line == "" {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
		if err := s.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				return s.out.Flush()
			}
			s.reply(replyErrorPrefix + err.Error())
		}
		if readErr != nil {
			// Last line had no terminator; the peer is gone.
			return s.out.Flush()
		}
	}
}

// readLine returns the next input line. A line that does not fit in
// MaxLineLength is consumed up to its newline and reported as
// errLineTooLong.
func (s *session) readLine() (string, error) {
	line, err := s.in.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return string(line), err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = s.in.ReadSlice('\n')
	}
	if err != nil {
		return "", err
	}
	return "", errLineTooLong
}

// execute runs one command line. Per-command failures come back as errors
// for the loop to report; the session itself keeps going.
func (s *session) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	cmd, ok := commands[name]
	if !ok {
		s.reply(ReplyUnknownCommand)
		return nil
	}
	if cmd.auth && !s.authorized {
		s.reply(ReplyPasswordRequired)
		return nil
	}
	return cmd.run(s, fields[1:])
}

func (s *session) reply(line string) {
	s.out.WriteString(line)
	s.out.WriteString("\n")
}

func (s *session) cmdPassword(args []string) error {
	if len(args) < 1 {
		return usageError("password")
	}
	if s.attempts.Check(context.Background(), args[0]) {
		s.authorized = true
		s.reply(ReplyOK)
	} else {
		s.reply(ReplyWrongPassword)
	}
	return nil
}

func (s *session) cmdAdd(args []string) error {
	if len(args) < 2 {
		return usageError("add")
	}
	port, err := parsePort(args[1])
	if err != nil {
		return err
	}
	h, err := s.ctl.builder.New(args[0])
	if err != nil {
		return err
	}
	if err := s.ctl.registry.AddService(h, port); err != nil {
		return err
	}
	s.reply(ReplyServiceAdded)
	return nil
}

func (s *session) cmdRemove(args []string) error {
	if len(args) < 1 {
		return usageError("remove")
	}
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	s.ctl.registry.RemoveService(port)
	s.reply(ReplyServiceRemoved)
	return nil
}

func (s *session) cmdMax(args []string) error {
	if len(args) < 1 {
		return usageError("max")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("%w: invalid connection limit %q", ErrParse, args[0])
	}
	s.ctl.registry.SetMaxConnections(n)
	s.reply(ReplyLimitChanged)
	return nil
}

func (s *session) cmdStatus(args []string) error {
	return s.ctl.registry.DisplayStatus(s.out)
}

func (s *session) cmdHelp(args []string) error {
	s.reply("COMMANDS:")
	for _, name := range commandOrder {
		s.reply("\t" + commands[name].usage)
	}
	if s.ctl.builder != nil {
		s.reply("SERVICES: " + strings.Join(s.ctl.builder.Names(), ", "))
	}
	return nil
}

func usageError(name string) error {
	return fmt.Errorf("%w: usage: %s", ErrParse, commands[name].usage)
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", ErrParse, s)
	}
	return port, nil
}
