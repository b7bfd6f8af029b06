package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/meterd/internal/capability"
	"git.home.luguber.info/inful/meterd/internal/daemon/events"
	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/journal"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
)

type fakeService struct {
	mu       sync.Mutex
	commands []lifecycle.Command
	payload  *forward.Payload
	verb     string

	result     lifecycle.Result
	commandErr error
	route      forward.RouteResult
	routeErr   error
	snapshot   lifecycle.Snapshot
	history    []journal.Entry
	historyErr error
	limit      int
	topics     []string

	feed chan events.Notification
}

func (f *fakeService) Command(_ context.Context, cmd lifecycle.Command) (lifecycle.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	res := f.result
	res.Verb = cmd.Verb
	return res, f.commandErr
}

func (f *fakeService) Forward(_ context.Context, verb string, p *forward.Payload) (forward.RouteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verb, f.payload = verb, p
	return f.route, f.routeErr
}

func (f *fakeService) Snapshot(context.Context) (lifecycle.Snapshot, error) {
	return f.snapshot, nil
}

func (f *fakeService) History(_ context.Context, limit int) ([]journal.Entry, error) {
	f.limit = limit
	return f.history, f.historyErr
}

func (f *fakeService) Subscribe(_ int, topics ...string) (<-chan events.Notification, func()) {
	f.mu.Lock()
	f.topics = topics
	f.mu.Unlock()
	return f.feed, func() {}
}

func newTestServer(svc Service, opts ...Option) *Server {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewServer("127.0.0.1:0", svc, opts...)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeService{})
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHealthEndpointReportsServices(t *testing.T) {
	healthy := true
	s := newTestServer(&fakeService{}, WithHealth(func() (bool, any) {
		return healthy, []string{"daemon"}
	}))
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","services":["daemon"]}`, w.Body.String())

	healthy = false
	w = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"unhealthy"`)
}

func TestMetricsEndpointMountedWhenConfigured(t *testing.T) {
	s := newTestServer(&fakeService{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics", "").Code)

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("meterd_up 1\n")) })
	s = newTestServer(&fakeService{}, WithMetricsHandler(h))
	w := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "meterd_up")
}

func TestCommandEndpointPassesRequest(t *testing.T) {
	svc := &fakeService{result: lifecycle.Result{State: capability.Running, Succeeded: true}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/commands/normal_start",
		`{"config":"{\"rate\":1}","path":"/data","identity":"probe-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Succeeded)
	assert.Equal(t, lifecycle.VerbNormalStart, resp.Result.Verb)
	assert.Empty(t, resp.Error)

	require.Len(t, svc.commands, 1)
	cmd := svc.commands[0]
	assert.Equal(t, lifecycle.VerbNormalStart, cmd.Verb)
	assert.Equal(t, `{"rate":1}`, cmd.Config)
	assert.Equal(t, "/data", cmd.DataPath)
	assert.Equal(t, "probe-1", cmd.Identity)
	assert.Equal(t, "http", cmd.Source)
}

func TestCommandEndpointAcceptsQualifiedActionAndEmptyBody(t *testing.T) {
	svc := &fakeService{result: lifecycle.Result{Succeeded: true}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/commands/ch.ethz.exot.intents.exotapps.action.QUERY", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.commands, 1)
	assert.Equal(t, lifecycle.VerbQuery, svc.commands[0].Verb)
}

func TestCommandFailureMapsCategory(t *testing.T) {
	svc := &fakeService{result: lifecycle.Result{
		State: capability.Missing,
		Err:   ferrors.ConfigError("config is not valid JSON").Build(),
	}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/commands/CREATE", `{"config":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Succeeded)
	assert.Equal(t, "config is not valid JSON", resp.Error)
	assert.Equal(t, string(ferrors.CategoryConfig), resp.Code)
}

func TestCommandQueueErrorUsesAdapter(t *testing.T) {
	svc := &fakeService{commandErr: ferrors.DaemonError("dispatch queue is closed").Build()}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/commands/START", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ferrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dispatch queue is closed", resp.Error)
	assert.Equal(t, string(ferrors.CategoryDaemon), resp.Code)
}

func TestCommandMalformedBody(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/commands/START", `{"config":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.commands)
}

func TestForwardEndpointKeepsPayloadOrder(t *testing.T) {
	svc := &fakeService{route: forward.RouteResult{Verb: "FORWARD_BROADCAST", Delivery: forward.DeliveryBroadcast}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/forward/FORWARD_BROADCAST",
		`{"action":"x.Y","zeta":1,"alpha":"a","mid":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "FORWARD_BROADCAST", svc.verb)
	require.NotNil(t, svc.payload)
	assert.Equal(t, []string{"action", "zeta", "alpha", "mid"}, svc.payload.Keys())

	var resp ForwardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, forward.DeliveryBroadcast, resp.Result.Delivery)
}

func TestForwardEndpointReportsRosterErrors(t *testing.T) {
	svc := &fakeService{route: forward.RouteResult{
		Verb:   "START_APPS",
		Errors: []error{ferrors.ValidationError("roster entry 1 is not an object").Build()},
	}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodPost, "/api/forward/START_APPS", `{"apps":[]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ForwardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "roster entry 1")
}

func TestForwardEndpointErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown verb", ferrors.UnknownVerbError("unknown forward verb").Build(), http.StatusNotFound},
		{"bad address", ferrors.AddressError("component must be namespace/name").Build(), http.StatusBadRequest},
		{"transport", ferrors.NetworkError("publish failed").Retryable().Build(), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeService{routeErr: tt.err})
			w := do(t, s, http.MethodPost, "/api/forward/FORWARD_BROADCAST", `{}`)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestForwardVerbsListed(t *testing.T) {
	s := newTestServer(&fakeService{})
	w := do(t, s, http.MethodGet, "/api/forward", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool     `json:"success"`
		Data    []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.ElementsMatch(t, forward.Verbs(), resp.Data)
}

func TestStatusEndpoint(t *testing.T) {
	svc := &fakeService{snapshot: lifecycle.Snapshot{State: capability.Initialised, Mode: lifecycle.ModeNormal, Exists: true, Initialised: true}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data lifecycle.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, capability.Initialised, resp.Data.State)
	assert.True(t, resp.Data.Initialised)
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		svc := &fakeService{history: []journal.Entry{{ID: "a", Kind: journal.KindCommand, Name: "START"}}}
		s := newTestServer(svc)
		w := do(t, s, http.MethodGet, "/api/history", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, journal.DefaultLimit, svc.limit)
		assert.Contains(t, w.Body.String(), `"START"`)
	})
	t.Run("explicit limit", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(svc)
		w := do(t, s, http.MethodGet, "/api/history?limit=5", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, svc.limit)
		assert.Contains(t, w.Body.String(), `"data":[]`)
	})
	t.Run("invalid limit", func(t *testing.T) {
		svc := &fakeService{}
		s := newTestServer(svc)
		w := do(t, s, http.MethodGet, "/api/history?limit=-2", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, svc.limit)
	})
	t.Run("disabled", func(t *testing.T) {
		svc := &fakeService{historyErr: ferrors.NewError(ferrors.CategoryNotFound, "journal is disabled").Build()}
		s := newTestServer(svc)
		w := do(t, s, http.MethodGet, "/api/history", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestEventStream(t *testing.T) {
	feed := make(chan events.Notification, 4)
	svc := &fakeService{feed: feed}
	s := newTestServer(svc, WithKeepAlive(time.Hour))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?topics=announce", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	feed <- events.Announcement{Message: "measurement started"}
	close(feed)

	var types []string
	var data []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			types = append(types, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, []string{"connected", "announce"}, types)
	svc.mu.Lock()
	assert.Equal(t, []string{"announce"}, svc.topics)
	svc.mu.Unlock()
	require.Len(t, data, 2)
	assert.Contains(t, data[1], "measurement started")
}

func TestParseTopics(t *testing.T) {
	assert.Nil(t, parseTopics(""))
	assert.Equal(t, []string{"status", "command"}, parseTopics("status, command,,status"))
}
