package forward

import (
	"context"
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Delivery selects how an outbound message is dispatched.
type Delivery string

const (
	// DeliveryBroadcast fires the message to every matching receiver.
	DeliveryBroadcast Delivery = "broadcast"
	// DeliveryStartService starts or re-delivers to a background service.
	DeliveryStartService Delivery = "start_service"
	// DeliveryStartActivity starts a foreground UI.
	DeliveryStartActivity Delivery = "start_activity"
	// DeliveryStopService stops a background service.
	DeliveryStopService Delivery = "stop_service"
)

// Component addresses one destination as "<namespace>/<name>".
type Component struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// ParseComponent splits s into namespace and name. Exactly one separator
// and two non-empty parts are required.
func ParseComponent(s string) (Component, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Component{}, ferrors.AddressError("component must be <namespace>/<name>").
			WithContext("component", s).
			WithContext("parts", len(parts)).
			Build()
	}
	return Component{Namespace: parts[0], Name: parts[1]}, nil
}

func (c Component) String() string { return c.Namespace + "/" + c.Name }

// Message is a fully formed outbound message.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Action    string     `json:"action,omitempty"`
	Component *Component `json:"component,omitempty"`
	Flags     int        `json:"flags,omitempty"`
	Extras    *Payload   `json:"extras,omitempty"`
	Delivery  Delivery   `json:"delivery"`
}

func (m Message) String() string {
	dest := "*"
	if m.Component != nil {
		dest = m.Component.String()
	}
	return fmt.Sprintf("%s %s -> %s (flags=%d, extras=%d)", m.Delivery, m.Action, dest, m.Flags, m.Extras.Len())
}

// Dispatcher sends outbound messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg Message) error { return f(ctx, msg) }
