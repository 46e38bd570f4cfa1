package cli

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/kvlog/undolog/pkg/repl"
)

// Serve accepts TCP connections on addr and serves the same command
// surface to each one over a repl.REPL loop, all against the one Session's
// Engine. The single-writer discipline holds across connections because
// Engine.Do/Undo/Redo/Recover/Compact share the Engine's own weight-1
// semaphore, not anything per-connection: a call made while another is in
// flight fails with oplog.ErrBusy rather than waiting. There is no per-connection
// isolation, every client sees the same log and store.
func Serve(addr string, sess *Session) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	r := buildRepl(sess)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func(c net.Conn) {
			defer c.Close()
			r.Run(c, uuid.New(), "undolog> ")
		}(conn)
	}
}

// buildRepl adapts the argv-style Commands map to repl.REPL trigger
// registration, where each handler receives the whole input line (trigger
// included) and a *repl.REPLConfig carrying the connection's writer.
func buildRepl(sess *Session) *repl.REPL {
	r := repl.NewRepl()
	for name, fn := range Commands {
		name, fn := name, fn
		r.AddCommand(name, func(line string, cfg *repl.REPLConfig) error {
			fields := strings.Fields(line)
			return fn(sess, fields[1:], cfg.GetWriter())
		}, helpFor(name))
	}
	r.AddCommand("example", func(line string, cfg *repl.REPLConfig) error {
		return RunExamples(cfg.GetWriter())
	}, helpFor("example"))
	r.AddCommand("help", func(line string, cfg *repl.REPLConfig) error {
		_, err := fmt.Fprint(cfg.GetWriter(), HelpText)
		return err
	}, "show this text")
	return r
}

func helpFor(name string) string {
	for _, line := range strings.Split(HelpText, "\n") {
		if strings.HasPrefix(line, name+":") {
			return line
		}
	}
	return name
}
