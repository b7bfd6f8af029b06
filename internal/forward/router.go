package forward

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/metrics"
	"git.home.luguber.info/inful/meterd/internal/protocol"
)

// Inbound forward verbs.
const (
	VerbForwardBundle        = "FORWARD_BUNDLE"
	VerbBundleExtras         = "BUNDLE_EXTRAS"
	VerbForward              = "FORWARD"
	VerbForwardLegacy        = "FORWARD_"
	VerbForwardStartService  = "FORWARD_STARTSERVICE"
	VerbForwardStartActivity = "FORWARD_STARTACTIVITY"
	VerbConfigureApp         = "CONFIGURE_APP"
	VerbStartApps            = "START_APPS"
	VerbStopApps             = "STOP_APPS"
)

type route struct {
	delivery Delivery
	bundle   bool
	// rosterVerb is set for roster fan-out routes.
	rosterVerb string
}

var routes = map[string]route{
	VerbForwardBundle:        {delivery: DeliveryBroadcast, bundle: true},
	VerbBundleExtras:         {delivery: DeliveryBroadcast, bundle: true},
	VerbForward:              {delivery: DeliveryBroadcast},
	VerbForwardLegacy:        {delivery: DeliveryBroadcast},
	VerbForwardStartService:  {delivery: DeliveryStartService},
	VerbForwardStartActivity: {delivery: DeliveryStartActivity},
	VerbConfigureApp:         {delivery: DeliveryStartService, bundle: true},
	VerbStartApps:            {delivery: DeliveryBroadcast, rosterVerb: "START"},
	VerbStopApps:             {delivery: DeliveryStopService, rosterVerb: "STOP"},
}

// Verbs returns the inbound verbs the router handles.
func Verbs() []string {
	return []string{
		VerbForwardBundle, VerbBundleExtras, VerbForward, VerbForwardLegacy,
		VerbForwardStartService, VerbForwardStartActivity, VerbConfigureApp,
		VerbStartApps, VerbStopApps,
	}
}

// RouteResult reports what a Route call dispatched.
type RouteResult struct {
	Verb     string    `json:"verb"`
	Delivery Delivery  `json:"delivery"`
	Messages []Message `json:"messages"`
	// Errors holds per-entry failures of a roster fan-out.
	Errors []error `json:"-"`
}

// Router maps inbound verbs to a forward mode and delivery, then dispatches.
// It has no state beyond its collaborators and never touches the lifecycle
// controller.
type Router struct {
	dispatcher Dispatcher
	ids        func() string
	recorder   metrics.Recorder
	tracer     trace.Tracer
	logger     *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithIDs sets the message id generator.
func WithIDs(fn func() string) RouterOption { return func(r *Router) { r.ids = fn } }

func WithRecorder(rec metrics.Recorder) RouterOption { return func(r *Router) { r.recorder = rec } }

func WithTracer(t trace.Tracer) RouterOption { return func(r *Router) { r.tracer = t } }

func WithLogger(l *slog.Logger) RouterOption { return func(r *Router) { r.logger = l } }

// NewRouter returns a router dispatching through d.
func NewRouter(d Dispatcher, opts ...RouterOption) *Router {
	r := &Router{
		dispatcher: d,
		ids:        func() string { return "" },
		recorder:   metrics.NoopRecorder{},
		tracer:     otel.Tracer("meterd/forward"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormaliseVerb strips a proxy action prefix and upper-cases verb.
func NormaliseVerb(verb string) string {
	return strings.ToUpper(protocol.ShortAction(verb))
}

// Route handles one inbound forward request. The payload's reserved keys are
// consumed. An unknown verb dispatches nothing and returns an UnknownVerb
// error. Roster fan-out is partial: per-entry failures land in
// RouteResult.Errors and do not fail the call.
func (r *Router) Route(ctx context.Context, verb string, payload *Payload) (RouteResult, error) {
	verb = NormaliseVerb(verb)
	ctx, span := r.tracer.Start(ctx, "forward.Route", trace.WithAttributes(attribute.String("meterd.verb", verb)))
	defer span.End()

	res := RouteResult{Verb: verb}
	rt, ok := routes[verb]
	if !ok {
		err := ferrors.UnknownVerbError("unknown forward action").WithContext("verb", verb).Build()
		r.logger.Info("Forward action unknown, nothing dispatched", logfields.Verb(verb))
		r.recorder.IncForward(verb, "", metrics.ResultRejected)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	res.Delivery = rt.delivery
	span.SetAttributes(attribute.String("meterd.delivery", string(rt.delivery)))

	if rt.rosterVerb != "" {
		msgs, errs := ExpandRoster(payload, protocol.Action(rt.rosterVerb))
		res.Errors = append(res.Errors, errs...)
		for _, e := range errs {
			r.logger.Warn("Roster entry skipped", logfields.Verb(verb), logfields.Error(e))
		}
		for _, m := range msgs {
			m.Delivery = rt.delivery
			if err := r.dispatch(ctx, &m); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Messages = append(res.Messages, m)
		}
		result := metrics.ResultSuccess
		if len(res.Errors) > 0 {
			result = metrics.ResultFailed
			span.SetStatus(codes.Error, "partial roster fan-out")
		}
		r.recorder.IncForward(verb, string(rt.delivery), result)
		return res, nil
	}

	msg, err := Forward(payload, rt.bundle, r.logger)
	if err != nil {
		r.logger.Warn("Forward rejected", logfields.Verb(verb), logfields.Error(err))
		r.recorder.IncForward(verb, string(rt.delivery), metrics.ResultRejected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	msg.Delivery = rt.delivery
	if err := r.dispatch(ctx, &msg); err != nil {
		r.recorder.IncForward(verb, string(rt.delivery), metrics.ResultFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	res.Messages = append(res.Messages, msg)
	r.recorder.IncForward(verb, string(rt.delivery), metrics.ResultSuccess)
	return res, nil
}

func (r *Router) dispatch(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = r.ids()
	}
	attrs := []any{
		logfields.Delivery(string(m.Delivery)),
		logfields.Action(m.Action),
		logfields.Flags(m.Flags),
	}
	if m.Component != nil {
		attrs = append(attrs, logfields.Component(m.Component.String()))
	}
	if err := r.dispatcher.Dispatch(ctx, *m); err != nil {
		r.recorder.IncDispatchError(string(m.Delivery))
		r.logger.Error("Dispatch failed", append(attrs, logfields.Error(err))...)
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "dispatch failed").
			WithContext("delivery", string(m.Delivery)).
			WithContext("action", m.Action).
			Retryable().Build()
	}
	r.logger.Info("Message dispatched", attrs...)
	return nil
}
