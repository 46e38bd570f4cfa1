// Package repl implements a small trigger-based command dispatcher: each
// line of input is split on whitespace, the first word selects a
// registered handler, and the whole line (trigger included) is handed to it.
// pkg/cli registers the undolog command surface (create/set/get/undo/
// redo/redos/changes/history/compact/example/help) against one of these for
// the TCP server mode; the one-shot CLI dispatches through pkg/cli's own
// Commands map instead.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	uuid "github.com/google/uuid"
)

// REPL holds a set of triggers, each mapped to a handler and a one-line
// help string.
type REPL struct {
	commands map[string]func(string, *REPLConfig) error
	help     map[string]string
}

// REPLConfig is handed to every command handler: where to write output, and
// an identifier for the connection issuing the command.
type REPLConfig struct {
	writer   io.Writer
	clientId uuid.UUID
}

// GetWriter returns the config's output writer.
func (replConfig *REPLConfig) GetWriter() io.Writer {
	return replConfig.writer
}

// GetAddr returns the config's connection identifier.
func (replConfig *REPLConfig) GetAddr() uuid.UUID {
	return replConfig.clientId
}

// NewRepl returns an empty REPL with no registered triggers.
func NewRepl() *REPL {
	return &REPL{commands: make(map[string]func(string, *REPLConfig) error), help: make(map[string]string)}
}

// CombineRepls merges several REPLs into one, failing if any two define the
// same trigger. Given no REPLs, it returns an empty one.
func CombineRepls(repls []*REPL) (*REPL, error) {
	if len(repls) == 0 {
		return NewRepl(), nil
	}

	commandsMap := make(map[string]func(string, *REPLConfig) error)
	helpsMap := make(map[string]string)
	for _, repl := range repls {
		for trigger, action := range repl.GetCommands() {
			if _, exists := commandsMap[trigger]; exists {
				return nil, errors.New("overlapping REPL trigger: " + trigger)
			}
			commandsMap[trigger] = action
		}
		for trigger, helpText := range repl.GetHelp() {
			if _, exists := helpsMap[trigger]; exists {
				return nil, errors.New("overlapping REPL trigger: " + trigger)
			}
			helpsMap[trigger] = helpText
		}
	}
	return &REPL{commands: commandsMap, help: helpsMap}, nil
}

// GetCommands returns the REPL's trigger-to-handler map.
func (r *REPL) GetCommands() map[string]func(string, *REPLConfig) error {
	return r.commands
}

// GetHelp returns the REPL's trigger-to-help-text map.
func (r *REPL) GetHelp() map[string]string {
	return r.help
}

// AddCommand registers a handler and its help text under trigger.
func (r *REPL) AddCommand(trigger string, action func(string, *REPLConfig) error, help string) {
	r.commands[trigger] = action
	r.help[trigger] = help
}

// HelpString renders every registered trigger's help text, one per line.
func (r *REPL) HelpString() string {
	var sb strings.Builder
	for k, v := range r.help {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, v))
	}
	return sb.String()
}

// Run drives the dispatch loop over c, or over stdin/stdout if c is nil,
// until EOF or a line consisting only of "EOF"/"SIGINT".
func (r *REPL) Run(c net.Conn, clientId uuid.UUID, prompt string) {
	var reader io.Reader
	var writer io.Writer
	if c == nil {
		reader = os.Stdin
		writer = os.Stdout
	} else {
		reader = c
		writer = c
	}
	scanner := bufio.NewScanner(reader)
	replConfig := &REPLConfig{writer: writer, clientId: clientId}

	io.WriteString(writer, prompt)
	for scanner.Scan() {
		if scanner.Text() == "EOF" || scanner.Text() == "SIGINT" {
			break
		}
		// Only the trigger itself is case-normalized; keys and values
		// passed as arguments keep their original case.
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			io.WriteString(writer, prompt)
			continue
		}
		trigger := strings.ToLower(fields[0])
		if trigger == ".help" {
			io.WriteString(writer, r.HelpString())
			io.WriteString(writer, prompt)
			continue
		}
		action, ok := r.commands[trigger]
		if !ok {
			io.WriteString(writer, "unrecognized command; try .help\n")
		} else if err := action(line, replConfig); err != nil {
			io.WriteString(writer, fmt.Sprintln(err))
		}
		io.WriteString(writer, prompt)
	}
}

// RunChan drives the dispatch loop over a channel of lines instead of a
// reader, echoing each line before executing it and writing all output to
// stdout.
func (r *REPL) RunChan(c chan string, clientId uuid.UUID, prompt string) {
	writer := os.Stdout
	replConfig := &REPLConfig{writer: writer, clientId: clientId}
	io.WriteString(writer, prompt)
	for payload := range c {
		io.WriteString(writer, payload+"\n")
		fields := strings.Fields(payload)
		if len(fields) == 0 {
			io.WriteString(writer, prompt)
			continue
		}
		trigger := strings.ToLower(fields[0])
		if trigger == ".help" {
			io.WriteString(writer, r.HelpString())
			io.WriteString(writer, prompt)
			continue
		}
		if command, exists := r.commands[trigger]; exists {
			if err := command(payload, replConfig); err != nil {
				io.WriteString(writer, fmt.Sprintf("%v\n", err))
			}
		} else {
			io.WriteString(writer, "command not found\n")
		}
		io.WriteString(writer, prompt)
	}
	io.WriteString(writer, "\n")
}
