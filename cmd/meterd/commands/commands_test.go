package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func parse(t *testing.T, args ...string) (*kong.Context, *CLI, *Global) {
	t.Helper()
	var cli CLI
	g := &Global{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Level: new(slog.LevelVar)}
	p, err := kong.New(&cli, kong.Name("meterd"), kong.Vars{"version": "test"}, kong.Bind(g), kong.Exit(func(int) {}))
	require.NoError(t, err)
	ctx, err := p.Parse(args)
	require.NoError(t, err)
	return ctx, &cli, g
}

func TestParseCommand(t *testing.T) {
	ctx, cli, _ := parse(t, "--server", "http://x", "command", "NORMAL_START", "--path", "/d", "--identity", "me")
	assert.Equal(t, "command <verb>", ctx.Command())
	assert.Equal(t, "http://x", cli.Server)
	assert.Equal(t, "NORMAL_START", cli.Command.Verb)
	assert.Equal(t, "/d", cli.Command.Path)
	assert.Equal(t, "me", cli.Command.Identity)
}

func TestVerboseRaisesLevel(t *testing.T) {
	_, _, g := parse(t, "-v", "status")
	assert.Equal(t, slog.LevelDebug, g.Level.Level())
}

func TestForwardPayloadBuild(t *testing.T) {
	c := ForwardCmd{
		Payload: `{"intent.action":"a.B","z":1}`,
		Set:     []string{"intent.flags=4", "on=true", "name=probe"},
	}
	p, err := c.build()
	require.NoError(t, err)
	assert.Equal(t, []string{"intent.action", "z", "intent.flags", "on", "name"}, p.Keys())

	flags, _ := p.Get("intent.flags")
	assert.Equal(t, 4, flags)
	on, _ := p.Get("on")
	assert.Equal(t, true, on)

	_, err = (&ForwardCmd{Set: []string{"novalue"}}).build()
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = (&ForwardCmd{Payload: `[1,2]`}).build()
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestReadDocument(t *testing.T) {
	v, err := readDocument(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rate":2}`), 0o600))
	v, err = readDocument("@" + path)
	require.NoError(t, err)
	assert.Equal(t, `{"rate":2}`, v)

	_, err = readDocument("@" + filepath.Join(t.TempDir(), "missing"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestCommandRunPostsRequest(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/commands/START", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"verb":"START","state":"RUNNING","succeeded":true}}`))
	}))
	defer ts.Close()
	out := captureStdout(t)

	cmd := CommandCmd{Verb: "START", Doc: `{"x":1}`}
	require.NoError(t, cmd.Run(nil, &CLI{Server: ts.URL}))
	assert.Equal(t, `{"x":1}`, got["config"])
	assert.Contains(t, out.String(), `"succeeded": true`)
}

func TestCommandRunReportsFailureCategory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"result":{"verb":"INIT","state":"CREATED","succeeded":false},"error":"init failed","code":"capability"}`))
	}))
	defer ts.Close()
	out := captureStdout(t)

	err := (&CommandCmd{Verb: "INIT"}).Run(nil, &CLI{Server: ts.URL})
	require.Error(t, err)
	c, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryCapability, c.Category())
	assert.Equal(t, "init failed", c.Message())
	assert.Contains(t, out.String(), `"CREATED"`)
}

func TestGetDoesNotRetryHTTPErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"journal is disabled","code":"not_found"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Get(context.Background(), "/api/history")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
	assert.Equal(t, 1, calls)
}

func TestGetUnreachableIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c := NewClient(base)
	c.retryFor = time.Millisecond
	_, err := c.Get(context.Background(), "/api/status")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
}

func TestStreamParsesFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status,command", r.URL.Query().Get("topics"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: connected\ndata: {}\n\n: keep-alive\n\nevent: status\ndata: {\"type\":\"status\"}\n\n")
	}))
	defer ts.Close()
	out := captureStdout(t)

	require.NoError(t, (&EventsCmd{Topics: []string{"status", "command"}}).Run(nil, &CLI{Server: ts.URL}))
	assert.Contains(t, out.String(), "connected")
	assert.Contains(t, out.String(), `{"type":"status"}`)
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	_ = captureStdout(t)
	require.NoError(t, (&InitCmd{Output: dir}).Run(nil, &CLI{}))
	_, err := os.Stat(filepath.Join(dir, "meterd.yaml"))
	require.NoError(t, err)

	err = (&InitCmd{Output: dir}).Run(nil, &CLI{})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}
