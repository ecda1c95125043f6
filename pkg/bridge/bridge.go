// Package bridge connects a host process to the dispatcher over a line
// protocol.
//
// Each request line is COMMAND or COMMAND|payload. Each reply is one JSON
// array line: ["ok","COMMAND"], ["ok","COMMAND",result] or
// ["error","COMMAND","message"]. Notifications are written as
// ["event","NAME",args...] lines between replies.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rookie-ar/markerscene/internal/dispatcher"
)

// CommandTimestamp is answered by the bridge itself.
const CommandTimestamp = ":TIMESTAMP:"

// MaxLineSize bounds one request line.
const MaxLineSize = 1 << 20

// Dispatcher is the subset of *dispatcher.Dispatcher the bridge uses.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
	HasHandler(command string) bool
}

// Bridge serves requests from one host.
type Bridge struct {
	d      Dispatcher
	logger *slog.Logger

	mu  sync.Mutex // serializes lines on out
	out io.Writer
}

// New creates a bridge that writes replies and events to out.
func New(d Dispatcher, out io.Writer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{d: d, out: out, logger: logger}
}

// Serve reads request lines from r until EOF or ctx is done. Blank lines
// are ignored.
func (b *Bridge) Serve(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := b.writeLine(b.Handle(line)); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
		}
	}
}

// Handle answers one request line.
func (b *Bridge) Handle(line string) string {
	command, payload, hasPayload := strings.Cut(line, "|")

	if command == CommandTimestamp {
		return formatResponse(command, timestamp(), nil)
	}
	if !b.d.HasHandler(command) {
		return formatResponse(command, nil, fmt.Errorf("no handler registered"))
	}

	e := dispatcher.Event{Command: command, Timestamp: time.Now()}
	if hasPayload {
		e.Args = []string{payload}
	}
	result, err := b.d.Dispatch(e)
	if err != nil {
		b.logger.Debug("Command failed", "command", command, "error", err)
	}
	return formatResponse(command, result, err)
}

// Emit writes a notification line. It is safe to call from any goroutine.
func (b *Bridge) Emit(event string, args ...any) {
	fields := append([]any{"event", event}, args...)
	data, err := json.Marshal(fields)
	if err != nil {
		b.logger.Error("Failed to encode event", "event", event, "error", err)
		return
	}
	if err := b.writeLine(string(data)); err != nil {
		b.logger.Warn("Failed to write event", "event", event, "error", err)
	}
}

func (b *Bridge) writeLine(s string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.out, s+"\n")
	return err
}

// formatResponse encodes a dispatch result as a reply line.
func formatResponse(command string, result any, err error) string {
	fields := []any{"ok", command}
	switch {
	case err != nil:
		fields = []any{"error", command, err.Error()}
	case result != nil:
		fields = append(fields, result)
	}
	data, merr := json.Marshal(fields)
	if merr != nil {
		data, _ = json.Marshal([]any{"error", command, "encode result: " + merr.Error()})
	}
	return string(data)
}

func timestamp() string {
	return strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
}
