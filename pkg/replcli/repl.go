// Package replcli is the interactive operator shell: a small command
// dispatcher bound to a live Coordinator, so an operator can begin,
// commit, roll back, and inspect transactions from a terminal or a raw
// socket.
package replcli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// REPL dispatches a line of input to the command registered for its
// first whitespace-separated token.
type REPL struct {
	commands map[string]func(string, *REPLConfig) error
	help     map[string]string
}

// REPLConfig carries the per-connection state visible to a command
// handler: where to write output, and the client's identity (used as
// the thread-affine key when a command begins or joins a transaction).
type REPLConfig struct {
	writer   io.Writer
	clientId uuid.UUID
}

func (c *REPLConfig) GetWriter() io.Writer { return c.writer }
func (c *REPLConfig) GetClientId() uuid.UUID { return c.clientId }

// NewRepl returns an empty REPL.
func NewRepl() *REPL {
	return &REPL{commands: make(map[string]func(string, *REPLConfig) error), help: make(map[string]string)}
}

// CombineRepls merges a slice of REPLs into one, erroring if any two
// define the same trigger.
func CombineRepls(repls []*REPL) (*REPL, error) {
	if len(repls) == 0 {
		return NewRepl(), nil
	}
	commands := make(map[string]func(string, *REPLConfig) error)
	help := make(map[string]string)
	for _, r := range repls {
		for trigger, fn := range r.commands {
			if _, exists := commands[trigger]; exists {
				return nil, errors.New("overlapping trigger: " + trigger)
			}
			commands[trigger] = fn
		}
		for trigger, text := range r.help {
			if _, exists := help[trigger]; exists {
				return nil, errors.New("overlapping trigger: " + trigger)
			}
			help[trigger] = text
		}
	}
	return &REPL{commands: commands, help: help}, nil
}

// AddCommand registers trigger with its handler and one-line help text.
func (r *REPL) AddCommand(trigger string, action func(string, *REPLConfig) error, help string) {
	r.commands[trigger] = action
	r.help[trigger] = help
}

// HelpString renders every registered trigger and its help text.
func (r *REPL) HelpString() string {
	var sb strings.Builder
	for trigger, text := range r.help {
		sb.WriteString(fmt.Sprintf("%s: %s\n", trigger, text))
	}
	return sb.String()
}

// Run drives the REPL loop against conn, or stdin/stdout if conn is
// nil. clientId identifies this session for thread-affine commands.
func (r *REPL) Run(conn net.Conn, clientId uuid.UUID, prompt string) {
	var reader io.Reader
	var writer io.Writer
	if conn == nil {
		reader, writer = os.Stdin, os.Stdout
	} else {
		reader, writer = conn, conn
	}
	cfg := &REPLConfig{writer: writer, clientId: clientId}
	r.AddCommand(".help", func(string, *REPLConfig) error {
		io.WriteString(writer, r.HelpString())
		return nil
	}, "list available commands")

	scanner := bufio.NewScanner(reader)
	io.WriteString(writer, prompt)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "EOF" || line == "SIGINT" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			io.WriteString(writer, prompt)
			continue
		}
		action, ok := r.commands[fields[0]]
		if !ok {
			io.WriteString(writer, "unrecognized command, try .help\n")
			io.WriteString(writer, prompt)
			continue
		}
		if err := action(line, cfg); err != nil {
			fmt.Fprintln(writer, err)
		}
		io.WriteString(writer, prompt)
	}
}
