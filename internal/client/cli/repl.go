package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, id string) error
	Add(ctx context.Context) error
	Edit(ctx context.Context, id string) error
	Consume(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string, hard bool) error
	Image(ctx context.Context, id, path string) error
	Pending(ctx context.Context) error
	Group(ctx context.Context, id string) error
	Sync(ctx context.Context) error
}

const helpText = `Available commands:
  list [status] [location]  list records of the active scope
  show <id>                 show one record
  add                       add a record
  edit <id>                 edit a record
  consume <id>              mark a record consumed
  status <id> <status>      set status (active, consumed, expired, wasted)
  delete <id> [--hard]      delete a record
  image <id> <path>         attach an image
  pending                   show queued changes
  group [id]                switch to a group, or back to personal records
  sync                      check connectivity and refresh
  exit | quit               leave the program`

// runREPL reads commands from reader until EOF or "exit" and dispatches them
// to a. The prompt shows statusFn. Handler errors are printed and the loop
// continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("pantry %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}
		if err := dispatch(ctx, a, cmd, args); err != nil {
			printlnFn("error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmd string, args []string) error {
	need := func(n int, usage string) bool {
		if len(args) < n {
			printlnFn("Usage:", usage)
			return false
		}
		return true
	}

	switch cmd {
	case "help":
		printlnFn(helpText)
	case "l", "list":
		return a.List(ctx, args)
	case "show":
		if need(1, "show <id>") {
			return a.Show(ctx, args[0])
		}
	case "add":
		return a.Add(ctx)
	case "edit":
		if need(1, "edit <id>") {
			return a.Edit(ctx, args[0])
		}
	case "consume":
		if need(1, "consume <id>") {
			return a.Consume(ctx, args[0])
		}
	case "status":
		if need(2, "status <id> <status>") {
			return a.SetStatus(ctx, args[0], args[1])
		}
	case "delete", "rm":
		if need(1, "delete <id> [--hard]") {
			return a.Delete(ctx, args[0], len(args) > 1 && args[1] == "--hard")
		}
	case "image":
		if need(2, "image <id> <path>") {
			return a.Image(ctx, args[0], args[1])
		}
	case "pending":
		return a.Pending(ctx)
	case "group":
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		return a.Group(ctx, id)
	case "sync":
		return a.Sync(ctx)
	default:
		printlnFn("Unknown command:", cmd)
	}
	return nil
}
