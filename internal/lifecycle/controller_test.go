package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/meterd/internal/capability"
	"git.home.luguber.info/inful/meterd/internal/capability/capabilitytest"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/status"
)

type recordingHooks struct {
	calls []string
}

func (h *recordingHooks) EnterRunning() { h.calls = append(h.calls, "enter") }
func (h *recordingHooks) ExitRunning() { h.calls = append(h.calls, "exit") }
func (h *recordingHooks) Announce(msg string) { h.calls = append(h.calls, "announce:"+msg) }
func (h *recordingHooks) RequestTermination() { h.calls = append(h.calls, "terminate") }

type harness struct {
	fake   *capabilitytest.Fake
	hooks  *recordingHooks
	events []status.Event
	ctrl   *Controller
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{fake: capabilitytest.New(), hooks: &recordingHooks{}}
	ch := status.NewChannel(nil)
	ch.Register(status.ListenerFunc(func(e status.Event) { h.events = append(h.events, e) }))
	base := []Option{
		WithIndicator(h.hooks),
		WithAnnouncer(h.hooks),
		WithTerminator(h.hooks),
		WithPublisher(ch),
	}
	h.ctrl = New(h.fake, append(base, opts...)...)
	return h
}

func (h *harness) handle(verb Verb, mutate ...func(*Command)) Result {
	cmd := Command{Verb: verb}
	for _, m := range mutate {
		m(&cmd)
	}
	return h.ctrl.Handle(context.Background(), cmd)
}

func withConfig(raw string) func(*Command) {
	return func(c *Command) { c.Config = raw }
}

func withPathAndIdentity(c *Command) {
	c.DataPath = "/sdcard/meter"
	c.Identity = "3f1c"
}

func (h *harness) lastEvent(t *testing.T) status.Event {
	t.Helper()
	require.NotEmpty(t, h.events)
	return h.events[len(h.events)-1]
}

func TestQueryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.fake.SetFlags(true, true, false)

	first := h.handle(VerbQuery)
	for range 3 {
		again := h.handle(VerbQuery)
		assert.Equal(t, first.State, again.State)
	}
	assert.Equal(t, capability.Initialised, first.State)
	assert.Empty(t, h.fake.Calls(), "query never mutates")
	assert.Empty(t, h.hooks.calls)
	assert.Len(t, h.events, 4)
}

func TestStateMonotonicityCreateInitStart(t *testing.T) {
	h := newHarness(t, WithMode(ModeAdvanced))

	res := h.handle(VerbCreate, withConfig(`{"period":1}`))
	require.True(t, res.Succeeded)
	assert.Equal(t, capability.Created, res.State)

	res = h.handle(VerbInit)
	require.True(t, res.Succeeded)
	assert.Equal(t, capability.Initialised, res.State)

	res = h.handle(VerbStart)
	require.True(t, res.Succeeded)
	assert.Equal(t, capability.Running, res.State)

	assert.Equal(t, []string{"enter", "announce:started", "enter"}, h.hooks.calls)
}

func TestStateStaysAtLastRungWhenCallFails(t *testing.T) {
	h := newHarness(t, WithMode(ModeAdvanced))
	h.fake.Fail(capabilitytest.OpInit)

	require.True(t, h.handle(VerbCreate, withConfig(`{}`)).Succeeded)
	res := h.handle(VerbInit)
	assert.False(t, res.Succeeded)
	assert.Equal(t, capability.Created, res.State)
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryCapability))

	res = h.handle(VerbStart)
	assert.Equal(t, capability.Created, res.State, "start succeeding on fake does not skip the initialised rung")
}

func TestCreateRequiresConfig(t *testing.T) {
	for _, raw := range []string{"", "not json", "[1,2]"} {
		h := newHarness(t)
		res := h.handle(VerbCreate, withConfig(raw))

		assert.False(t, res.Succeeded)
		assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryConfig), "raw=%q", raw)
		assert.Empty(t, h.fake.Calls(), "no manager call on config error")
		assert.Equal(t, capability.Missing, res.State)
		assert.Equal(t, status.KindStatus, h.lastEvent(t).Kind, "status still published")
	}
}

func TestResetRequiresConfig(t *testing.T) {
	h := newHarness(t)
	h.fake.SetFlags(true, true, true)

	res := h.handle(VerbReset)
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryConfig))
	assert.Empty(t, h.fake.Calls())
	assert.Equal(t, capability.Running, res.State)
}

func TestCreatePassesRequestThrough(t *testing.T) {
	h := newHarness(t)
	h.handle(VerbCreate, withConfig("period: 5\n"), withPathAndIdentity)

	assert.Equal(t, capability.Config{"period": 5}, h.fake.LastCreate.Config)
	assert.Equal(t, "/sdcard/meter", h.fake.LastCreate.DataPath)
	assert.Equal(t, "3f1c", h.fake.LastCreate.Identity)
}

func TestNormalStartAttemptsAllThreeSteps(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail(capabilitytest.OpInit)

	res := h.handle(VerbNormalStart, withPathAndIdentity)

	assert.Equal(t, []capabilitytest.Op{
		capabilitytest.OpCreate, capabilitytest.OpInit, capabilitytest.OpStart,
	}, h.fake.Calls())
	assert.Equal(t, []Call{{"create", true}, {"init", false}, {"start", true}}, res.Calls)
	assert.False(t, res.Succeeded)
	assert.Empty(t, h.hooks.calls, "no side effect unless all three succeed")
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryCapability))
}

func TestNormalStartSideEffectsOnFullSuccess(t *testing.T) {
	h := newHarness(t)
	res := h.handle(VerbNormalStart, withPathAndIdentity, withConfig(`{"a":1}`))

	require.True(t, res.Succeeded)
	assert.Equal(t, capability.Running, res.State)
	assert.Equal(t, []string{"enter", "announce:started"}, h.hooks.calls)
	assert.Equal(t, capability.Config{"a": float64(1)}, h.fake.LastCreate.Config)
}

func TestNormalStartRequiresPathAndIdentity(t *testing.T) {
	cases := map[string]func(*Command){
		"missing both":     func(*Command) {},
		"missing identity": func(c *Command) { c.DataPath = "/p" },
		"missing path":     func(c *Command) { c.Identity = "id" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			res := h.handle(VerbNormalStart, mutate)
			assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryConfig))
			assert.Empty(t, h.fake.Calls())
		})
	}
}

// STOP tears down the indicator on stop success alone; destroy failure only
// shows up in the reported result. This legacy asymmetry is intentional.
func TestStopDestroyAsymmetryIsPreserved(t *testing.T) {
	h := newHarness(t, WithMode(ModeAdvanced))
	h.fake.SetFlags(true, true, true)
	h.fake.Fail(capabilitytest.OpDestroy)

	res := h.handle(VerbStop)

	assert.Equal(t, []capabilitytest.Op{capabilitytest.OpStop, capabilitytest.OpDestroy}, h.fake.Calls())
	assert.False(t, res.Succeeded, "destroy failure is AND-ed into the result")
	assert.Equal(t, []string{"exit", "announce:stopped"}, h.hooks.calls, "indicator teardown still happened")
	assert.Equal(t, capability.Initialised, res.State)
}

func TestStopFailureStillDestroys(t *testing.T) {
	h := newHarness(t, WithMode(ModeAdvanced))
	h.fake.SetFlags(true, true, false)
	h.fake.Fail(capabilitytest.OpStop)

	res := h.handle(VerbStop)

	assert.Equal(t, []capabilitytest.Op{capabilitytest.OpStop, capabilitytest.OpDestroy}, h.fake.Calls())
	assert.Equal(t, []string{"announce:stopped"}, h.hooks.calls)
	assert.Equal(t, capability.Missing, res.State)
}

func TestNormalStopRequestsTermination(t *testing.T) {
	h := newHarness(t)
	h.fake.SetFlags(true, true, true)

	res := h.handle(VerbNormalStop)

	require.True(t, res.Succeeded)
	assert.Equal(t, []string{"exit", "announce:stopped", "terminate"}, h.hooks.calls)
	assert.Contains(t, res.SideEffects, EffectTerminate)
}

func TestStartAndStopResolvePerMode(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		verb      Verb
		flags     [3]bool
		want      Verb
		requested Verb
		ops       []capabilitytest.Op
		hooks     []string
		state     capability.State
	}{
		{
			name: "normal start", mode: ModeNormal, verb: VerbStart,
			want: VerbNormalStart, requested: VerbStart,
			ops:   []capabilitytest.Op{capabilitytest.OpCreate, capabilitytest.OpInit, capabilitytest.OpStart},
			hooks: []string{"enter", "announce:started"},
			state: capability.Running,
		},
		{
			name: "normal stop", mode: ModeNormal, verb: VerbStop, flags: [3]bool{true, true, true},
			want: VerbNormalStop, requested: VerbStop,
			ops:   []capabilitytest.Op{capabilitytest.OpStop, capabilitytest.OpDestroy},
			hooks: []string{"exit", "announce:stopped", "terminate"},
			state: capability.Missing,
		},
		{
			name: "advanced start", mode: ModeAdvanced, verb: VerbStart, flags: [3]bool{true, true, false},
			want:  VerbStart,
			ops:   []capabilitytest.Op{capabilitytest.OpStart},
			hooks: []string{"enter"},
			state: capability.Running,
		},
		{
			name: "advanced stop", mode: ModeAdvanced, verb: VerbStop, flags: [3]bool{true, true, true},
			want:  VerbStop,
			ops:   []capabilitytest.Op{capabilitytest.OpStop, capabilitytest.OpDestroy},
			hooks: []string{"exit", "announce:stopped"},
			state: capability.Missing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, WithMode(tt.mode))
			h.fake.SetFlags(tt.flags[0], tt.flags[1], tt.flags[2])

			res := h.handle(tt.verb, withPathAndIdentity)

			require.NoError(t, res.Err)
			assert.True(t, res.Succeeded)
			assert.Equal(t, tt.want, res.Verb)
			assert.Equal(t, tt.requested, res.Requested)
			assert.Equal(t, tt.ops, h.fake.Calls())
			assert.Equal(t, tt.hooks, h.hooks.calls)
			assert.Equal(t, tt.state, res.State)
			assert.Equal(t, string(tt.want), h.lastEvent(t).Verb)
		})
	}
}

func TestNormalModeStartStillNeedsPathAndIdentity(t *testing.T) {
	h := newHarness(t)

	res := h.handle(VerbStart)

	assert.Equal(t, VerbNormalStart, res.Verb)
	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryConfig))
	assert.Empty(t, h.fake.Calls(), "no primitive start in normal mode")
	assert.Empty(t, h.hooks.calls)
}

func TestResetAndDestroyExitOnlyWhenPreviouslyStarted(t *testing.T) {
	tests := []struct {
		name     string
		verb     Verb
		started  bool
		fail     bool
		wantExit bool
	}{
		{"reset started", VerbReset, true, false, true},
		{"reset not started", VerbReset, false, false, false},
		{"reset fails", VerbReset, true, true, false},
		{"destroy started", VerbDestroy, true, false, true},
		{"destroy not started", VerbDestroy, false, false, false},
		{"destroy fails", VerbDestroy, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fake.SetFlags(true, true, tt.started)
			if tt.fail {
				h.fake.Fail(capabilitytest.OpReset).Fail(capabilitytest.OpDestroy)
			}
			h.handle(tt.verb, withConfig(`{"x":true}`))
			if tt.wantExit {
				assert.Equal(t, []string{"exit"}, h.hooks.calls)
			} else {
				assert.Empty(t, h.hooks.calls)
			}
		})
	}
}

func TestUnknownVerbPublishesStatusWithoutCalls(t *testing.T) {
	h := newHarness(t)
	res := h.handle(Verb("LAUNCH"))

	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryUnknownVerb))
	assert.Empty(t, h.fake.Calls())
	require.Len(t, h.events, 1)
	assert.Equal(t, status.KindStatus, h.events[0].Kind)
	assert.Equal(t, "LAUNCH", h.events[0].Verb)
}

func TestCompoundVerbsIllegalInAdvancedMode(t *testing.T) {
	h := newHarness(t, WithMode(ModeAdvanced))

	for _, v := range []Verb{VerbNormalStart, VerbNormalStop} {
		res := h.handle(v, withPathAndIdentity)
		assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryUnknownVerb), v)
	}
	assert.Empty(t, h.fake.Calls())
	assert.Len(t, h.events, 2)

	res := h.handle(VerbCreate, withConfig(`{}`))
	assert.True(t, res.Succeeded, "primitives stay legal")
}

func TestPanickingCallPublishesException(t *testing.T) {
	h := newHarness(t)
	h.fake.Panic(capabilitytest.OpInit, "native crash")

	res := h.handle(VerbNormalStart, withPathAndIdentity)

	assert.True(t, ferrors.HasCategory(res.Err, ferrors.CategoryCapability))
	assert.Equal(t, []Call{{"create", true}, {"init", false}, {"start", true}}, res.Calls)

	kinds := make([]status.Kind, 0, len(h.events))
	for _, e := range h.events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []status.Kind{status.KindException, status.KindStatus}, kinds)
	assert.Equal(t, capability.Created, h.events[0].State)
}

func TestTeardownSuppressesKilledWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.fake.SetFlags(true, true, true)

	st, published := h.ctrl.Teardown()
	assert.Equal(t, capability.Running, st)
	assert.False(t, published)
	assert.Empty(t, h.events)
}

func TestTeardownPublishesKilledWithFinalState(t *testing.T) {
	for _, flags := range [][3]bool{{false, false, false}, {true, false, false}, {true, true, false}} {
		h := newHarness(t)
		h.fake.SetFlags(flags[0], flags[1], flags[2])

		st, published := h.ctrl.Teardown()
		require.True(t, published)
		ev := h.lastEvent(t)
		assert.Equal(t, status.KindKilled, ev.Kind)
		assert.Equal(t, st, ev.State)
		assert.NotEqual(t, capability.Running, ev.State)
	}
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, WithMode(ModeAdvanced))
	h.fake.SetFlags(true, true, true)
	h.fake.Status = "started"
	h.fake.Elapsed = "00:00:09"

	s := h.ctrl.Snapshot()
	assert.Equal(t, Snapshot{
		State: capability.Running, Mode: ModeAdvanced,
		Exists: true, Initialised: true, Started: true,
		Status: "started", RunningTime: "00:00:09",
	}, s)
	assert.Equal(t, "00:00:09", h.ctrl.RunningTime())
	assert.Empty(t, h.events, "snapshot publishes nothing")
}

func TestControllerAgainstInProcessManager(t *testing.T) {
	ch := status.NewChannel(nil)
	var states []capability.State
	ch.Register(status.ListenerFunc(func(e status.Event) { states = append(states, e.State) }))
	ctrl := New(capability.NewInProcess(), WithPublisher(ch))

	ctx := context.Background()
	ctrl.Handle(ctx, Command{Verb: VerbNormalStart, DataPath: "/d", Identity: "i"})
	ctrl.Handle(ctx, Command{Verb: VerbNormalStart, DataPath: "/d", Identity: "i"})
	ctrl.Handle(ctx, Command{Verb: VerbNormalStop})
	_, killed := ctrl.Teardown()

	assert.Equal(t, []capability.State{capability.Running, capability.Running, capability.Missing, capability.Missing}, states)
	assert.True(t, killed)
}
