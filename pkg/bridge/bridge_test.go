package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookie-ar/markerscene/internal/dispatcher"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// syncBuffer is a bytes.Buffer safe for the concurrent writes Emit does.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Split(strings.TrimSpace(s.buf.String()), "\n")
}

func newTestBridge(t *testing.T) (*Bridge, *dispatcher.Dispatcher, *syncBuffer) {
	t.Helper()
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	out := &syncBuffer{}
	return New(d, out, nil), d, out
}

func TestFormatResponse(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		result   any
		err      error
		expected string
	}{
		{"string result", ":VERSION:", "1.0.0", nil, `["ok",":VERSION:","1.0.0"]`},
		{"nil result", ":SOME:CMD:", nil, nil, `["ok",":SOME:CMD:"]`},
		{"error", ":ACTIVATE:", nil, errors.New("invalid input: empty marker id"), `["error",":ACTIVATE:","invalid input: empty marker id"]`},
		{"map result", ":STATUS:", map[string]int{"items": 3}, nil, `["ok",":STATUS:",{"items":3}]`},
		{"array result", ":DATA:", []int{1, 2, 3}, nil, `["ok",":DATA:",[1,2,3]]`},
		{"quotes escaped", ":ECHO:", `say "hi"`, nil, `["ok",":ECHO:","say \"hi\""]`},
		{"unencodable result", ":BAD:", func() {}, nil, `["error",":BAD:","encode result: json: unsupported type: func()"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatResponse(tt.command, tt.result, tt.err))
		})
	}
}

func TestHandle_PayloadPassedAsSingleArg(t *testing.T) {
	b, d, _ := newTestBridge(t)

	var got dispatcher.Event
	d.Register(":ACTIVATE:", func(e dispatcher.Event) (any, error) {
		got = e
		return "queued", nil
	})

	reply := b.Handle(`:ACTIVATE:|{"markerId":"M1","backendBaseUrl":"https://a|b"}`)

	assert.Equal(t, `["ok",":ACTIVATE:","queued"]`, reply)
	assert.Equal(t, ":ACTIVATE:", got.Command)
	require.Len(t, got.Args, 1)
	assert.Equal(t, `{"markerId":"M1","backendBaseUrl":"https://a|b"}`, got.Args[0])
}

func TestHandle_NoPayload(t *testing.T) {
	b, d, _ := newTestBridge(t)

	var args []string
	d.Register(":STATUS:", func(e dispatcher.Event) (any, error) {
		args = e.Args
		return nil, nil
	})

	assert.Equal(t, `["ok",":STATUS:"]`, b.Handle(":STATUS:"))
	assert.Empty(t, args)
}

func TestHandle_UnknownCommand(t *testing.T) {
	b, _, _ := newTestBridge(t)
	assert.Equal(t, `["error",":NOPE:","no handler registered"]`, b.Handle(":NOPE:|x"))
}

func TestHandle_Timestamp(t *testing.T) {
	b, _, _ := newTestBridge(t)

	var reply []string
	require.NoError(t, json.Unmarshal([]byte(b.Handle(CommandTimestamp)), &reply))
	require.Len(t, reply, 3)
	assert.Equal(t, "ok", reply[0])
	assert.Regexp(t, `^\d+$`, reply[2])
}

func TestEmit(t *testing.T) {
	b, _, out := newTestBridge(t)

	b.Emit("SceneReady")
	b.Emit("ActivationFailed", "a-1", "network error: timeout")

	assert.Equal(t, []string{
		`["event","SceneReady"]`,
		`["event","ActivationFailed","a-1","network error: timeout"]`,
	}, out.Lines())
}

func TestServe(t *testing.T) {
	b, d, out := newTestBridge(t)
	d.Register(":VERSION:", func(e dispatcher.Event) (any, error) { return "1.2.3", nil })

	in := strings.NewReader(":VERSION:\n\n:MISSING:\n")
	err := b.Serve(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{
		`["ok",":VERSION:","1.2.3"]`,
		`["error",":MISSING:","no handler registered"]`,
	}, out.Lines())
}

func TestServe_ContextCancelled(t *testing.T) {
	b, _, _ := newTestBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	block := &blockingReader{release: make(chan struct{})}
	defer close(block.release)

	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, block) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

type blockingReader struct {
	release chan struct{}
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.release
	return 0, errors.New("closed")
}
