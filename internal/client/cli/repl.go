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

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	List(ctx context.Context) error
	Show(ctx context.Context, ref string) error
	New(ctx context.Context) error
	Edit(ctx context.Context, ref string) error
	Delete(ctx context.Context, ref string) error
	Publish(ctx context.Context, ref string, public bool) error
	Sync(ctx context.Context) error
	Stop(ctx context.Context) error
	Pending(ctx context.Context) error
	Outbox(ctx context.Context) error
	Stats(ctx context.Context) error
}

const helpText = `Available commands:
  (l)ist                 list notes
  show <id|slug>         show a note
  new                    create a note
  edit [id|slug]         edit a note, the current one by default
  delete [id|slug]       delete a note
  publish [id|slug]      make a note public
  unpublish [id|slug]    make a note private
  sync                   replay pending changes in the background
  stop                   stop a running sync
  pending                number of pending changes
  outbox                 list pending changes
  stats                  sync counters
  exit | quit            leave the program`

// runREPL reads commands line by line from in and dispatches them to a.
//
// The prompt shows the status from statusFn and is only printed when prompt
// is set, so piped input produces clean output. The loop exits on EOF, on
// "exit" or "quit", or when ctx is done.
//
// Errors returned by command handlers are ignored here; handlers report
// their own errors.
func runREPL(ctx context.Context, a execIface, statusFn func() string, in *bufio.Reader, prompt bool) {
	for ctx.Err() == nil {
		if prompt {
			printlnFn(fmt.Sprintf("notes (%s) > ", statusFn()))
		}
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, arg := parts[0], ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "l", "list":
			_ = a.List(ctx)

		case "show":
			if arg == "" {
				printlnFn("Usage: show <id|slug>")
				continue
			}
			_ = a.Show(ctx, arg)

		case "new":
			_ = a.New(ctx)

		case "edit":
			_ = a.Edit(ctx, arg)

		case "delete", "rm":
			_ = a.Delete(ctx, arg)

		case "publish":
			_ = a.Publish(ctx, arg, true)

		case "unpublish":
			_ = a.Publish(ctx, arg, false)

		case "sync":
			_ = a.Sync(ctx)

		case "stop":
			_ = a.Stop(ctx)

		case "pending":
			_ = a.Pending(ctx)

		case "outbox":
			_ = a.Outbox(ctx)

		case "stats":
			_ = a.Stats(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
