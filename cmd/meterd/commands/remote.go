package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"git.home.luguber.info/inful/meterd/internal/api"
	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

var stdout io.Writer = os.Stdout

// CommandCmd implements the 'command' command.
type CommandCmd struct {
	Verb     string `arg:"" help:"Lifecycle verb (CREATE, INIT, START, STOP, RESET, DESTROY, QUERY, NORMAL_START, NORMAL_STOP)"`
	Doc      string `name:"doc" help:"Config document as JSON, or @file to read it from a file"`
	Path     string `help:"Data path for NORMAL_START"`
	Identity string `help:"Identity for NORMAL_START"`
	ID       string `name:"id" help:"Command id (generated when empty)"`
}

func (c *CommandCmd) Run(_ *Global, root *CLI) error {
	doc, err := readDocument(c.Doc)
	if err != nil {
		return err
	}
	req := api.CommandRequest{ID: c.ID, Config: doc, Path: c.Path, Identity: c.Identity}
	body, err := NewClient(root.Server).Post(context.Background(), "/api/commands/"+url.PathEscape(c.Verb), req)
	if body != nil {
		printJSON(body)
	}
	return err
}

// ForwardCmd implements the 'forward' command.
type ForwardCmd struct {
	Verb    string   `arg:"" help:"Forward verb (FORWARD_BROADCAST, FORWARD_STARTSERVICE, ...)"`
	Payload string   `help:"Payload as a JSON object, or @file to read it from a file"`
	Set     []string `short:"s" help:"Payload entry as key=value, appended after --payload; repeatable"`
}

func (c *ForwardCmd) Run(_ *Global, root *CLI) error {
	payload, err := c.build()
	if err != nil {
		return err
	}
	body, err := NewClient(root.Server).Post(context.Background(), "/api/forward/"+url.PathEscape(c.Verb), payload)
	if body != nil {
		printJSON(body)
	}
	return err
}

func (c *ForwardCmd) build() (*forward.Payload, error) {
	payload := forward.NewPayload()
	raw, err := readDocument(c.Payload)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), payload); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "payload is not a JSON object").Build()
		}
	}
	for _, kv := range c.Set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, ferrors.ValidationError("--set expects key=value").WithContext("value", kv).Build()
		}
		payload.Set(k, scalar(v))
	}
	return payload, nil
}

// scalar interprets v as an int or bool when it parses as one.
func scalar(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (s *StatusCmd) Run(_ *Global, root *CLI) error {
	body, err := NewClient(root.Server).Get(context.Background(), "/api/status")
	if err != nil {
		return err
	}
	printJSON(body)
	return nil
}

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of entries" default:"20"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	body, err := NewClient(root.Server).Get(context.Background(), "/api/history?limit="+strconv.Itoa(h.Limit))
	if err != nil {
		return err
	}
	printJSON(body)
	return nil
}

// EventsCmd implements the 'events' command.
type EventsCmd struct {
	Topics []string `help:"Only show these topics (status, command, forward, running, announce)"`
}

func (e *EventsCmd) Run(_ *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := "/api/events"
	if len(e.Topics) > 0 {
		path += "?topics=" + url.QueryEscape(strings.Join(e.Topics, ","))
	}
	return NewClient(root.Server).Stream(ctx, path, func(event, data string) {
		_, _ = fmt.Fprintf(stdout, "%-9s %s\n", event, data)
	})
}

// readDocument returns v, or the contents of the file named after a
// leading '@'.
func readDocument(v string) (string, error) {
	name, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryConfig, "cannot read document").
			WithContext("path", name).
			Build()
	}
	return string(data), nil
}

func printJSON(body []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, _ = stdout.Write(body)
		return
	}
	buf.WriteByte('\n')
	_, _ = stdout.Write(buf.Bytes())
}
