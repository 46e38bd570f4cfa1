// Command undolog is a durable, crash-safe undo/redo log over a key/value
// store, rooted at a data directory (default: ./.undolog).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kvlog/undolog/pkg/cli"
)

func main() {
	dir := flag.String("dir", ".undolog", "data directory holding the log and store files")
	serve := flag.String("serve", "", "if set, listen on this address (host:port) and serve the command surface over TCP instead of running one command")
	flag.Parse()

	if *serve != "" {
		sess, err := cli.Open(*dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(cli.ExitCode(err))
		}
		defer sess.Close()
		fmt.Printf("undolog serving %s on %s\n", *dir, *serve)
		if err := cli.Serve(*serve, sess); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(cli.ExitInternal)
		}
		return
	}

	os.Exit(cli.Run(*dir, flag.Args(), os.Stdout))
}
